package drive

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	am "membership/internal/access/models"
)

// Fake is an in-memory Client. It backs local runs without credentials and
// lets tests seed external grants and inject failures.
type Fake struct {
	mu     sync.Mutex
	grants map[string]map[string]am.Grantee
	seq    int
	fail   map[string][]error

	Grants  int
	Revokes int
	Lists   int
}

func NewFake() *Fake {
	return &Fake{grants: map[string]map[string]am.Grantee{}, fail: map[string][]error{}}
}

// Seed records a grant as if someone outside this system had made it.
func (f *Fake) Seed(resourceExternalID, email string, level am.Level) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(resourceExternalID, email, level)
}

// FailNext queues err for the next call of op ("grant", "revoke" or "list").
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = append(f.fail[op], err)
}

func (f *Fake) Grant(_ context.Context, resourceExternalID, email string, level am.Level) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Grants++
	if err := f.popFailure("grant"); err != nil {
		return "", err
	}
	email = strings.ToLower(email)
	for pid, g := range f.grants[resourceExternalID] {
		if g.Email == email {
			g.Level = level
			f.grants[resourceExternalID][pid] = g
			return pid, nil
		}
	}
	return f.add(resourceExternalID, email, level), nil
}

func (f *Fake) Revoke(_ context.Context, resourceExternalID, permissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Revokes++
	if err := f.popFailure("revoke"); err != nil {
		return err
	}
	if _, ok := f.grants[resourceExternalID][permissionID]; !ok {
		return ErrNotFound
	}
	delete(f.grants[resourceExternalID], permissionID)
	return nil
}

func (f *Fake) ListGrants(_ context.Context, resourceExternalID string) ([]am.Grantee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists++
	if err := f.popFailure("list"); err != nil {
		return nil, err
	}
	out := make([]am.Grantee, 0, len(f.grants[resourceExternalID]))
	for _, g := range f.grants[resourceExternalID] {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b am.Grantee) int { return strings.Compare(a.Email, b.Email) })
	return out, nil
}

// Has reports whether email currently holds a grant on the resource.
func (f *Fake) Has(resourceExternalID, email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants[resourceExternalID] {
		if g.Email == strings.ToLower(email) {
			return true
		}
	}
	return false
}

// Calls returns the total number of upstream calls.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Grants + f.Revokes + f.Lists
}

func (f *Fake) add(resourceExternalID, email string, level am.Level) string {
	f.seq++
	pid := fmt.Sprintf("perm-%d", f.seq)
	if f.grants[resourceExternalID] == nil {
		f.grants[resourceExternalID] = map[string]am.Grantee{}
	}
	f.grants[resourceExternalID][pid] = am.Grantee{Email: strings.ToLower(email), Level: level, PermissionID: pid}
	return pid
}

func (f *Fake) popFailure(op string) error {
	q := f.fail[op]
	if len(q) == 0 {
		return nil
	}
	f.fail[op] = q[1:]
	return q[0]
}
