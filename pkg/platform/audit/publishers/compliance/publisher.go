// Package compliance provides a fail-closed audit publisher.
//
// Emit writes synchronously. When it is called with a transactional context
// the entry commits or rolls back with the business change; if the write
// fails the caller MUST fail its operation.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	id "membership/pkg/domain"
	audit "membership/pkg/platform/audit"
	"membership/pkg/requestcontext"
)

// Publisher emits audit entries with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enriches the entry from request context and writes it.
func (p *Publisher) Emit(ctx context.Context, entry audit.Entry) error {
	start := time.Now()

	if entry.Action == "" {
		return fmt.Errorf("audit entry requires Action")
	}
	if entry.ID.IsNil() {
		entry.ID = id.New[id.AuditID]()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.Category == "" {
		entry.Category = entry.Action.Category()
	}
	if entry.ActorID.IsNil() {
		entry.ActorID = requestcontext.ActorID(ctx)
	}
	if entry.IPAddress == "" {
		entry.IPAddress = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, entry); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit persistence failed",
				"action", entry.Action,
				"profile_id", entry.ProfileID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted(entry.Category)
	return nil
}

// ListByProfile returns the entries recorded for a profile.
func (p *Publisher) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]audit.Entry, error) {
	return p.store.ListByProfile(ctx, profileID)
}
