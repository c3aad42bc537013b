package drive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	am "membership/internal/access/models"
)

// Guarded wraps a Client with a token bucket and a circuit breaker. Waiting
// for a token honours ctx; an open breaker fails fast with ErrUnavailable.
type Guarded struct {
	next    Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

type GuardOption func(*Guarded)

func WithBreaker(cb *CircuitBreaker) GuardOption {
	return func(g *Guarded) { g.breaker = cb }
}

func NewGuarded(next Client, perSecond float64, burst int, opts ...GuardOption) *Guarded {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 1
	}
	g := &Guarded{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		breaker: NewCircuitBreaker(5, 0),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Grant(ctx context.Context, resourceExternalID, email string, level am.Level) (string, error) {
	var permID string
	err := g.call(ctx, func() error {
		var err error
		permID, err = g.next.Grant(ctx, resourceExternalID, email, level)
		return err
	})
	return permID, err
}

func (g *Guarded) Revoke(ctx context.Context, resourceExternalID, permissionID string) error {
	return g.call(ctx, func() error { return g.next.Revoke(ctx, resourceExternalID, permissionID) })
}

func (g *Guarded) ListGrants(ctx context.Context, resourceExternalID string) ([]am.Grantee, error) {
	var out []am.Grantee
	err := g.call(ctx, func() error {
		var err error
		out, err = g.next.ListGrants(ctx, resourceExternalID)
		return err
	})
	return out, err
}

func (g *Guarded) call(ctx context.Context, fn func() error) error {
	if !g.breaker.Allow() {
		return ErrUnavailable
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("drive: wait for rate limit: %w", err)
	}
	err := fn()
	// Not-found is an answer, not an outage.
	if err == nil || errors.Is(err, ErrNotFound) {
		g.breaker.RecordSuccess()
		return err
	}
	g.breaker.RecordFailure()
	return err
}
