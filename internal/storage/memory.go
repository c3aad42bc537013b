// Package storage holds the in-memory implementation of every store. All
// tables live in one DB so a transaction can span aggregates: RunInTx works on
// a snapshot and swaps it in on success, so a failed transaction leaves no
// partial writes behind.
package storage

import (
	"context"
	"maps"
	"sync"
	"time"

	am "membership/internal/access/models"
	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	em "membership/internal/export/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/outbox"
)

// defaultTxTimeout is the maximum duration for a transaction.
const defaultTxTimeout = 5 * time.Second

type tables struct {
	accounts        map[id.AccountID]mm.Account
	profiles        map[id.ProfileID]mm.Profile
	roleAssignments map[id.RoleAssignmentID]mm.RoleAssignment
	teams           map[id.TeamID]mm.Team
	memberships     map[id.TeamMembershipID]mm.TeamMembership
	tags            map[tagKey]mm.ProfileTag
	changes         []mm.ChangeRecord

	applications map[id.ApplicationID]apm.Application
	batches      map[id.BatchID]apm.Batch

	documents   map[id.DocumentID]cm.LegalDocument
	versions    map[id.VersionID]cm.DocumentVersion
	consents    map[id.ConsentID]cm.ConsentRecord
	revocations map[id.RevocationID]cm.ConsentRevocation

	deletions map[id.DeletionRequestID]dm.Request
	exports   map[id.ExportRequestID]em.Request

	resources   map[id.ResourceID]am.Resource
	roleRules   map[id.RuleID]am.RoleRule
	teamRules   map[id.RuleID]am.TeamRule
	permissions map[id.PermissionID]am.Permission
	accessLogs  map[id.PermissionLogID]am.PermissionLog

	audit      []audit.Entry
	outbox     []outbox.Message
	outboxKeys map[string]bool
	seq        int64
}

type tagKey struct {
	profile id.ProfileID
	tag     id.TagID
}

func newTables() *tables {
	return &tables{
		accounts:        map[id.AccountID]mm.Account{},
		profiles:        map[id.ProfileID]mm.Profile{},
		roleAssignments: map[id.RoleAssignmentID]mm.RoleAssignment{},
		teams:           map[id.TeamID]mm.Team{},
		memberships:     map[id.TeamMembershipID]mm.TeamMembership{},
		tags:            map[tagKey]mm.ProfileTag{},
		applications:    map[id.ApplicationID]apm.Application{},
		batches:         map[id.BatchID]apm.Batch{},
		documents:       map[id.DocumentID]cm.LegalDocument{},
		versions:        map[id.VersionID]cm.DocumentVersion{},
		consents:        map[id.ConsentID]cm.ConsentRecord{},
		revocations:     map[id.RevocationID]cm.ConsentRevocation{},
		deletions:       map[id.DeletionRequestID]dm.Request{},
		exports:         map[id.ExportRequestID]em.Request{},
		resources:       map[id.ResourceID]am.Resource{},
		roleRules:       map[id.RuleID]am.RoleRule{},
		teamRules:       map[id.RuleID]am.TeamRule{},
		permissions:     map[id.PermissionID]am.Permission{},
		accessLogs:      map[id.PermissionLogID]am.PermissionLog{},
		outboxKeys:      map[string]bool{},
	}
}

func (t *tables) clone() *tables {
	return &tables{
		accounts:        maps.Clone(t.accounts),
		profiles:        maps.Clone(t.profiles),
		roleAssignments: maps.Clone(t.roleAssignments),
		teams:           maps.Clone(t.teams),
		memberships:     maps.Clone(t.memberships),
		tags:            maps.Clone(t.tags),
		changes:         append([]mm.ChangeRecord(nil), t.changes...),
		applications:    maps.Clone(t.applications),
		batches:         maps.Clone(t.batches),
		documents:       maps.Clone(t.documents),
		versions:        maps.Clone(t.versions),
		consents:        maps.Clone(t.consents),
		revocations:     maps.Clone(t.revocations),
		deletions:       maps.Clone(t.deletions),
		exports:         maps.Clone(t.exports),
		resources:       maps.Clone(t.resources),
		roleRules:       maps.Clone(t.roleRules),
		teamRules:       maps.Clone(t.teamRules),
		permissions:     maps.Clone(t.permissions),
		accessLogs:      maps.Clone(t.accessLogs),
		audit:           append([]audit.Entry(nil), t.audit...),
		outbox:          append([]outbox.Message(nil), t.outbox...),
		outboxKeys:      maps.Clone(t.outboxKeys),
		seq:             t.seq,
	}
}

func (t *tables) nextSeq() int64 {
	t.seq++
	return t.seq
}

// DB is the in-memory database. Transactions are serialized by a single
// lock; reads and writes outside a transaction take the same lock per call.
type DB struct {
	mu        sync.Mutex
	committed *tables
	timeout   time.Duration
}

func NewDB() *DB {
	return &DB{committed: newTables(), timeout: defaultTxTimeout}
}

type txKey struct{}

// RunInTx runs fn against a snapshot of every table. The snapshot replaces
// the committed state only when fn returns nil. A context that already
// carries a transaction joins it.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tables); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.timeout)
		defer cancel()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	snapshot := db.committed.clone()
	if err := fn(context.WithValue(ctx, txKey{}, snapshot)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	db.committed = snapshot
	return nil
}

// with runs fn on the transaction snapshot in ctx, or on the committed
// tables under the lock.
func (db *DB) with(ctx context.Context, fn func(t *tables) error) error {
	if t, ok := ctx.Value(txKey{}).(*tables); ok {
		return fn(t)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.committed)
}

func query[T any](db *DB, ctx context.Context, fn func(t *tables) (T, error)) (T, error) {
	var out T
	err := db.with(ctx, func(t *tables) error {
		var err error
		out, err = fn(t)
		return err
	})
	return out, err
}

// Stores bundles every store backed by one DB.
type Stores struct {
	DB              *DB
	Accounts        *AccountStore
	Profiles        *ProfileStore
	RoleAssignments *RoleAssignmentStore
	Teams           *TeamStore
	Tags            *TagStore
	Changes         *ChangeStore
	Applications    *ApplicationStore
	Documents       *DocumentStore
	Consents        *ConsentStore
	Deletions       *DeletionStore
	Exports         *ExportStore
	Access          *AccessStore
	Audit           *AuditStore
	Outbox          *OutboxStore
}

// New builds all stores over a fresh DB.
func New() *Stores {
	db := NewDB()
	return &Stores{
		DB:              db,
		Accounts:        &AccountStore{db: db},
		Profiles:        &ProfileStore{db: db},
		RoleAssignments: &RoleAssignmentStore{db: db},
		Teams:           &TeamStore{db: db},
		Tags:            &TagStore{db: db},
		Changes:         &ChangeStore{db: db},
		Applications:    &ApplicationStore{db: db},
		Documents:       &DocumentStore{db: db},
		Consents:        &ConsentStore{db: db},
		Deletions:       &DeletionStore{db: db},
		Exports:         &ExportStore{db: db},
		Access:          &AccessStore{db: db},
		Audit:           &AuditStore{db: db},
		Outbox:          &OutboxStore{db: db},
	}
}
