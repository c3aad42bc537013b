// Package service runs the application workflow: submission, review,
// approval into a profile with a role, rejection, review batches and
// retention redaction.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Memberships

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apm "membership/internal/application/models"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/internal/platform/metrics"
	"membership/pkg/attrs"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	platformstrings "membership/pkg/platform/strings"
	"membership/pkg/platform/tx"
	"membership/pkg/requestcontext"
)

const defaultLanguage = "en"

type ApplicationStore interface {
	FindByID(ctx context.Context, appID id.ApplicationID) (*apm.Application, error)
	FindOpenByAccount(ctx context.Context, accountID id.AccountID) (*apm.Application, error)
	Save(ctx context.Context, app *apm.Application) error
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]apm.Application, error)
	ListByBatch(ctx context.Context, batchID id.BatchID) ([]apm.Application, error)
	RedactRejectedBefore(ctx context.Context, cutoff, now time.Time) (int, error)
	FindBatch(ctx context.Context, batchID id.BatchID) (*apm.Batch, error)
	SaveBatch(ctx context.Context, batch *apm.Batch) error
}

type AccountStore interface {
	FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error)
	Save(ctx context.Context, account *mm.Account) error
}

type ProfileStore interface {
	FindByAccount(ctx context.Context, accountID id.AccountID) (*mm.Profile, error)
	Save(ctx context.Context, profile *mm.Profile) error
}

// Memberships starts role assignments. The membership service implements it
// and runs the status change hook inside the caller's transaction.
type Memberships interface {
	AssignRole(ctx context.Context, profileID id.ProfileID, role mm.Role, start time.Time, notes string) (*mm.RoleAssignment, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	tx             tx.Runner
	applications   ApplicationStore
	accounts       AccountStore
	profiles       ProfileStore
	memberships    Memberships
	notifier       notify.Notifier
	logger         *slog.Logger
	auditPublisher AuditPublisher
	transitions    *metrics.Transitions
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

func WithTransitions(t *metrics.Transitions) Option {
	return func(s *Service) {
		s.transitions = t
	}
}

func New(runner tx.Runner, applications ApplicationStore, accounts AccountStore, profiles ProfileStore, memberships Memberships, notifier notify.Notifier, opts ...Option) *Service {
	s := &Service{
		tx:           runner,
		applications: applications,
		accounts:     accounts,
		profiles:     profiles,
		memberships:  memberships,
		notifier:     notifier,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files a new application for the account. Only one application per
// account may be open at a time.
func (s *Service) Submit(ctx context.Context, accountID id.AccountID, sub apm.Submission) (*apm.Application, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	app := &apm.Application{
		ID:                    id.New[id.ApplicationID](),
		AccountID:             accountID,
		Status:                apm.StatusSubmitted,
		LegalName:             strings.TrimSpace(sub.LegalName),
		PreferredName:         strings.TrimSpace(sub.PreferredName),
		PreferredLanguage:     sub.PreferredLanguage,
		CountryOfResidence:    strings.ToUpper(sub.CountryOfResidence),
		RequestedRole:         sub.RequestedRole,
		HowHeard:              sub.HowHeard,
		Motivation:            sub.Motivation,
		AttendedBefore:        sub.AttendedBefore,
		YearsAttended:         sub.YearsAttended,
		Skills:                platformstrings.DedupeAndTrim(sub.Skills),
		DataProcessingConsent: true,
		ConsentedAt:           now,
		ConsentIP:             requestcontext.ClientIP(ctx),
		SubmittedAt:           now,
		UpdatedAt:             now,
	}
	if app.PreferredLanguage == "" {
		app.PreferredLanguage = defaultLanguage
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
			return wrapLoad(err, "account")
		}
		if err := s.applications.Save(ctx, app); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an application is already open for this account")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save application")
		}
		if err := s.emit(ctx, audit.ActionApplicationSubmitted, app, nil); err != nil {
			return err
		}
		return s.notify(ctx, notify.KindApplicationSubmitted, app)
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("application", "submit")
	s.logAudit(ctx, string(audit.ActionApplicationSubmitted), "application_id", app.ID, "account_id", accountID)
	return app, nil
}

// StartReview moves a submitted application under review.
func (s *Service) StartReview(ctx context.Context, appID id.ApplicationID) (*apm.Application, error) {
	return s.transition(ctx, appID, apm.EventStartReview, "", nil)
}

// Approve accepts an application under review. In one transaction it stamps
// the review, updates the account language, creates or updates the profile
// and starts a role assignment today.
func (s *Service) Approve(ctx context.Context, appID id.ApplicationID, notes string) (*apm.Application, error) {
	return s.transition(ctx, appID, apm.EventApprove, notes, s.admit)
}

// Reject declines an application under review.
func (s *Service) Reject(ctx context.Context, appID id.ApplicationID, notes string) (*apm.Application, error) {
	return s.transition(ctx, appID, apm.EventReject, notes, nil)
}

func (s *Service) Get(ctx context.Context, appID id.ApplicationID) (*apm.Application, error) {
	app, err := s.applications.FindByID(ctx, appID)
	if err != nil {
		return nil, wrapLoad(err, "application")
	}
	return app, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID id.AccountID) ([]apm.Application, error) {
	apps, err := s.applications.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, wrapLoad(err, "applications")
	}
	return apps, nil
}

var eventActions = map[apm.Event]audit.Action{
	apm.EventStartReview: audit.ActionApplicationReview,
	apm.EventApprove:     audit.ActionApplicationApproved,
	apm.EventReject:      audit.ActionApplicationRejected,
}

var eventNotifications = map[apm.Event]notify.Kind{
	apm.EventApprove: notify.KindApplicationApproved,
	apm.EventReject:  notify.KindApplicationRejected,
}

// transition applies ev and runs after, if any, in the same transaction.
func (s *Service) transition(ctx context.Context, appID id.ApplicationID, ev apm.Event, notes string, after func(ctx context.Context, app *apm.Application) (id.ProfileID, error)) (*apm.Application, error) {
	var app *apm.Application
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		app, err = s.applications.FindByID(ctx, appID)
		if err != nil {
			return wrapLoad(err, "application")
		}
		if err := app.Apply(ev, requestcontext.ActorID(ctx), notes, requestcontext.Now(ctx)); err != nil {
			return err
		}
		var profileID id.ProfileID
		if after != nil {
			if profileID, err = after(ctx, app); err != nil {
				return err
			}
		}
		if err := s.applications.Save(ctx, app); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save application")
		}
		if err := s.emit(ctx, eventActions[ev], app, func(e *audit.Entry) { e.ProfileID = profileID }); err != nil {
			return err
		}
		if kind, ok := eventNotifications[ev]; ok {
			return s.notify(ctx, kind, app)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("application", string(ev))
	s.logAudit(ctx, string(eventActions[ev]), "application_id", app.ID, "status", app.Status)
	return app, nil
}

// admit turns an approved application into a profile with a role.
func (s *Service) admit(ctx context.Context, app *apm.Application) (id.ProfileID, error) {
	now := requestcontext.Now(ctx)
	account, err := s.accounts.FindByID(ctx, app.AccountID)
	if err != nil {
		return id.ProfileID{}, wrapLoad(err, "account")
	}
	account.PreferredLanguage = app.PreferredLanguage
	account.UpdatedAt = now
	if err := s.accounts.Save(ctx, account); err != nil {
		return id.ProfileID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save account")
	}

	profile, err := s.profiles.FindByAccount(ctx, app.AccountID)
	created := false
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		profile = &mm.Profile{ID: id.New[id.ProfileID](), AccountID: app.AccountID, CreatedAt: now}
		created = true
	case err != nil:
		return id.ProfileID{}, wrapLoad(err, "profile")
	case profile.IsAnonymized():
		return id.ProfileID{}, dErrors.New(dErrors.CodeImmutable, "profile has been anonymized")
	}
	profile.LegalName = app.LegalName
	profile.CountryOfResidence = app.CountryOfResidence
	profile.UpdatedAt = now
	if err := s.profiles.Save(ctx, profile); err != nil {
		return id.ProfileID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save profile")
	}
	if created {
		if err := s.emitProfile(ctx, profile); err != nil {
			return id.ProfileID{}, err
		}
	}

	note := "Application " + app.ID.String()
	if _, err := s.memberships.AssignRole(ctx, profile.ID, app.RequestedRole, requestcontext.Today(ctx), note); err != nil {
		return id.ProfileID{}, err
	}
	return profile.ID, nil
}

func (s *Service) emitProfile(ctx context.Context, p *mm.Profile) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Entry{
		Action:     audit.ActionProfileCreated,
		ProfileID:  p.ID,
		EntityKind: audit.EntityProfile,
		EntityID:   p.ID.String(),
	})
}

func (s *Service) emit(ctx context.Context, action audit.Action, app *apm.Application, edit func(*audit.Entry)) error {
	if s.auditPublisher == nil {
		return nil
	}
	e := audit.Entry{
		Action:     action,
		EntityKind: audit.EntityApplication,
		EntityID:   app.ID.String(),
		Extra:      map[string]any{"status": string(app.Status), "requested_role": string(app.RequestedRole)},
	}
	if edit != nil {
		edit(&e)
	}
	return s.auditPublisher.Emit(ctx, e)
}

func (s *Service) notify(ctx context.Context, kind notify.Kind, app *apm.Application) error {
	err := s.notifier.Send(ctx, notify.Event{
		Kind:           kind,
		IdempotencyKey: notify.Key(kind, app.ID),
		AccountID:      app.AccountID,
		Payload: map[string]any{
			"application_id": app.ID.String(),
			"requested_role": string(app.RequestedRole),
			"language":       app.PreferredLanguage,
		},
		OccurredAt: requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue notification")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, attrs.Audit(ctx, event, attributes...)...)
	}
}

func wrapLoad(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}
