// Package service provisions and reconciles external storage permissions
// against membership state. Every upstream call is logged before and after,
// so the permission log is a complete trail independent of the permission
// table.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks MemberDirectory,AuditPublisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"membership/internal/access/drive"
	"membership/internal/access/metrics"
	am "membership/internal/access/models"
	"membership/pkg/attrs"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/platform/tx"
)

// PermissionStore persists access configuration, permissions and the log.
type PermissionStore interface {
	Rules(ctx context.Context) (am.Rules, error)
	FindResource(ctx context.Context, resourceID id.ResourceID) (*am.Resource, error)
	ActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]am.Permission, error)
	ActiveByResource(ctx context.Context, resourceID id.ResourceID) ([]am.Permission, error)
	InsertPermission(ctx context.Context, p *am.Permission) error
	DeactivatePermission(ctx context.Context, permID id.PermissionID, now time.Time) error
	InsertLog(ctx context.Context, entry *am.PermissionLog) error
	UpdateLog(ctx context.Context, entry *am.PermissionLog) error
	ListRetryable(ctx context.Context, since time.Time, maxRetries int) ([]am.PermissionLog, error)
}

// MemberDirectory answers who a profile is and what it may hold.
type MemberDirectory interface {
	Member(ctx context.Context, profileID id.ProfileID) (am.Member, error)
	// ProfilesWithRole lists profiles holding an active role assignment.
	ProfilesWithRole(ctx context.Context) ([]id.ProfileID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service runs provisioning, revocation, reconciliation and the retry sweep.
type Service struct {
	tx             tx.Runner
	store          PermissionStore
	members        MemberDirectory
	client         drive.Client
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	parallelism    int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithParallelism bounds how many resources ReconcileAll works on at once.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

func New(runner tx.Runner, store PermissionStore, members MemberDirectory, client drive.Client, opts ...Option) *Service {
	s := &Service{
		tx:          runner,
		store:       store,
		members:     members,
		client:      client,
		logger:      slog.Default(),
		tracer:      otel.Tracer("membership/access"),
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) member(ctx context.Context, profileID id.ProfileID) (am.Member, error) {
	m, err := s.members.Member(ctx, profileID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return am.Member{}, dErrors.New(dErrors.CodeNotFound, "profile not found")
		}
		return am.Member{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load member")
	}
	return m, nil
}

// classify maps a drive error onto the engine's taxonomy.
func classify(err error, msg string) error {
	if drive.IsTransient(err) {
		return dErrors.Wrap(err, dErrors.CodeExternalTransient, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeExternalPermanent, msg)
}

func (s *Service) emit(ctx context.Context, action audit.Action, p am.Permission, extra map[string]any) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Entry{
		Action:     action,
		ProfileID:  p.ProfileID,
		EntityKind: audit.EntityPermission,
		EntityID:   p.ID.String(),
		Extra:      extra,
	})
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, attrs.Audit(ctx, event, attributes...)...)
	}
}

func (s *Service) countLog(entry *am.PermissionLog) {
	if s.metrics != nil {
		s.metrics.IncOperation(string(entry.Action), string(entry.Status))
	}
}
