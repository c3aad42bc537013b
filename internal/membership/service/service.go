// Package service owns profile membership state: derived status, role
// assignment lifecycle, teams and the status change hook that drives
// external access.
package service

import (
	"context"
	"log/slog"
	"time"

	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	"membership/internal/jobs"
	"membership/internal/membership/metrics"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/pkg/attrs"
	id "membership/pkg/domain"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/tx"
	"membership/pkg/requestcontext"
)

type AccountStore interface {
	FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error)
}

type ProfileStore interface {
	FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error)
	FindByAccount(ctx context.Context, accountID id.AccountID) (*mm.Profile, error)
	Save(ctx context.Context, profile *mm.Profile) error
}

type RoleAssignmentStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.RoleAssignment, error)
	Save(ctx context.Context, ra *mm.RoleAssignment) error
	DeactivateExpired(ctx context.Context, today, now time.Time) ([]mm.RoleAssignment, error)
	ListActiveEndingOn(ctx context.Context, day time.Time) ([]mm.RoleAssignment, error)
	DeactivateByProfile(ctx context.Context, profileID id.ProfileID, note string, removed bool, now time.Time) ([]mm.RoleAssignment, error)
	ListProfilesWithActive(ctx context.Context) ([]id.ProfileID, error)
}

type TeamStore interface {
	FindTeam(ctx context.Context, teamID id.TeamID) (*mm.Team, error)
	FindTeamByName(ctx context.Context, name string) (*mm.Team, error)
	SaveTeam(ctx context.Context, team *mm.Team) error
	ListMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error)
	ActiveMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error)
	FindActiveMembership(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) (*mm.TeamMembership, error)
	SaveMembership(ctx context.Context, m *mm.TeamMembership) error
}

type ChangeStore interface {
	Append(ctx context.Context, rec mm.ChangeRecord) error
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error)
}

// ApplicationStore is the narrow read status derivation needs.
type ApplicationStore interface {
	FindOpenByAccount(ctx context.Context, accountID id.AccountID) (*apm.Application, error)
}

type DocumentStore interface {
	Requirements(ctx context.Context) ([]cm.Requirement, error)
}

type ConsentStore interface {
	ListActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Stores groups the persistence the service reads and writes.
type Stores struct {
	Accounts        AccountStore
	Profiles        ProfileStore
	RoleAssignments RoleAssignmentStore
	Teams           TeamStore
	Changes         ChangeStore
	Applications    ApplicationStore
	Documents       DocumentStore
	Consents        ConsentStore
}

type Service struct {
	tx             tx.Runner
	stores         Stores
	tasks          jobs.Enqueuer
	notifier       notify.Notifier
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

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

// New wires the membership service. tasks receives access work; in
// production it writes to the outbox so the work commits with the change
// that caused it.
func New(runner tx.Runner, stores Stores, tasks jobs.Enqueuer, notifier notify.Notifier, opts ...Option) *Service {
	s := &Service{
		tx:       runner,
		stores:   stores,
		tasks:    tasks,
		notifier: notifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, entry)
}

// recordChange appends a history row for a profile or assignment mutation.
func (s *Service) recordChange(ctx context.Context, profileID id.ProfileID, kind audit.EntityKind, entityID string, fields ...string) error {
	return s.stores.Changes.Append(ctx, mm.ChangeRecord{
		ProfileID:  profileID,
		EntityKind: string(kind),
		EntityID:   entityID,
		Fields:     fields,
		ActorID:    requestcontext.ActorID(ctx),
		ChangedAt:  requestcontext.Now(ctx),
	})
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, attrs.Audit(ctx, event, attributes...)...)
	}
}
