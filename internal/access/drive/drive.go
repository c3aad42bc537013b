// Package drive is the port to the external storage-permission API. The
// access service only sees Client; RESTClient talks to a Drive v3 style HTTP
// API, Fake keeps grants in memory, and Guarded throttles either one.
package drive

//go:generate mockgen -source=drive.go -destination=mocks/mocks.go -package=mocks Client

import (
	"context"
	"errors"

	am "membership/internal/access/models"
)

var (
	// ErrRateLimited is the transient class: retry later, more patiently.
	ErrRateLimited = errors.New("drive: rate limited")
	// ErrNotFound means the resource or permission does not exist upstream.
	ErrNotFound = errors.New("drive: not found")
	// ErrUnavailable is returned without calling upstream while the breaker is open.
	ErrUnavailable = errors.New("drive: unavailable")
)

// Client grants, revokes and lists permissions on external resources.
// Revoke of an absent permission returns ErrNotFound; callers treat that as
// success.
type Client interface {
	Grant(ctx context.Context, resourceExternalID, email string, level am.Level) (string, error)
	Revoke(ctx context.Context, resourceExternalID, permissionID string) error
	ListGrants(ctx context.Context, resourceExternalID string) ([]am.Grantee, error)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
