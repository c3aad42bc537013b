// Package service runs right-to-erasure requests: filing and confirmation,
// board review, and execution, which revokes external access and anonymizes
// the profile in place.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Access

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	am "membership/internal/access/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/internal/platform/metrics"
	"membership/pkg/attrs"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/platform/tx"
	"membership/pkg/requestcontext"
)

type RequestStore interface {
	FindByID(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error)
	FindByToken(ctx context.Context, token string) (*dm.Request, error)
	FindOpenByProfile(ctx context.Context, profileID id.ProfileID) (*dm.Request, error)
	Save(ctx context.Context, req *dm.Request) error
	ListByStatus(ctx context.Context, status dm.Status) ([]dm.Request, error)
}

type AccountStore interface {
	FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error)
	Save(ctx context.Context, account *mm.Account) error
}

type ProfileStore interface {
	FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error)
	Save(ctx context.Context, profile *mm.Profile) error
}

type RoleAssignmentStore interface {
	DeactivateByProfile(ctx context.Context, profileID id.ProfileID, note string, removed bool, now time.Time) ([]mm.RoleAssignment, error)
}

type TeamStore interface {
	DeactivateMemberships(ctx context.Context, profileID id.ProfileID, now time.Time) (int, error)
}

type ConsentStore interface {
	DeactivateByProfile(ctx context.Context, profileID id.ProfileID, reason cm.DeactivationReason, now time.Time) (int, error)
}

type ApplicationStore interface {
	RedactByAccount(ctx context.Context, accountID id.AccountID, now time.Time) (int, error)
}

type TagStore interface {
	DeleteSelfAssignable(ctx context.Context, profileID id.ProfileID) (int, error)
}

type PermissionStore interface {
	ActiveByProfile(ctx context.Context, profileID id.ProfileID) ([]am.Permission, error)
}

// Access revokes every external permission of a profile.
type Access interface {
	RevokeAll(ctx context.Context, profileID id.ProfileID) error
}

// Memberships is what erasure needs from the membership service.
type Memberships interface {
	Track(ctx context.Context, profileIDs []id.ProfileID, fn func(ctx context.Context) error) error
	IsBoardMember(ctx context.Context, accountID id.AccountID) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Stores groups the stores erasure reads and rewrites.
type Stores struct {
	Requests        RequestStore
	Accounts        AccountStore
	Profiles        ProfileStore
	RoleAssignments RoleAssignmentStore
	Teams           TeamStore
	Consents        ConsentStore
	Applications    ApplicationStore
	Tags            TagStore
	Permissions     PermissionStore
}

type Service struct {
	tx             tx.Runner
	stores         Stores
	access         Access
	memberships    Memberships
	tasks          jobs.Enqueuer
	notifier       notify.Notifier
	anonymizer     *Anonymizer
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

func New(runner tx.Runner, stores Stores, access Access, memberships Memberships, tasks jobs.Enqueuer, notifier notify.Notifier, anonymizer *Anonymizer, opts ...Option) *Service {
	s := &Service{
		tx:          runner,
		stores:      stores,
		access:      access,
		memberships: memberships,
		tasks:       tasks,
		notifier:    notifier,
		anonymizer:  anonymizer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request files an erasure request for the profile and sends the
// confirmation token. A profile may have one open request at a time.
func (s *Service) Request(ctx context.Context, profileID id.ProfileID, reason string) (*dm.Request, error) {
	var req *dm.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		profile, err := s.stores.Profiles.FindByID(ctx, profileID)
		if err != nil {
			return wrapLoad(err, "profile")
		}
		if profile.IsAnonymized() {
			return dErrors.New(dErrors.CodeInvalidTransition, "profile is already anonymized")
		}
		account, err := s.stores.Accounts.FindByID(ctx, profile.AccountID)
		if err != nil {
			return wrapLoad(err, "account")
		}
		now := requestcontext.Now(ctx)
		snapshot := map[string]string{
			"email":                account.Email,
			"legal_name":           profile.LegalName,
			"country_of_residence": profile.CountryOfResidence,
		}
		if req, err = dm.NewRequest(profileID, strings.TrimSpace(reason), snapshot, requestcontext.ActorID(ctx), now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create deletion request")
		}
		if err := req.Apply(dm.EventSendConfirmation, now); err != nil {
			return err
		}
		if err := s.stores.Requests.Save(ctx, req); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "a deletion request is already open for this profile")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save deletion request")
		}
		if err := s.emit(ctx, audit.ActionDeletionRequested, req, map[string]any{"reason": req.Reason}); err != nil {
			return err
		}
		return s.send(ctx, notify.KindDeletionConfirmation, req, profile.AccountID, map[string]any{
			"request_id": req.ID.String(),
			"token":      req.ConfirmationToken,
		})
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("deletion", string(dm.EventSendConfirmation))
	s.logAudit(ctx, string(audit.ActionDeletionRequested), "profile_id", profileID, "deletion_request_id", req.ID)
	return req, nil
}

// Confirm accepts the emailed token and queues the request for board review.
func (s *Service) Confirm(ctx context.Context, token string) (*dm.Request, error) {
	var req *dm.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = s.stores.Requests.FindByToken(ctx, strings.TrimSpace(token)); err != nil {
			return wrapLoad(err, "deletion request")
		}
		if err := req.Apply(dm.EventConfirm, requestcontext.Now(ctx)); err != nil {
			return err
		}
		return s.save(ctx, audit.ActionDeletionConfirmed, req, nil)
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("deletion", string(dm.EventConfirm))
	s.logAudit(ctx, string(audit.ActionDeletionConfirmed), "deletion_request_id", req.ID)
	return req, nil
}

// Approve is the board decision to erase. Execution is queued.
func (s *Service) Approve(ctx context.Context, reqID id.DeletionRequestID, notes string) (*dm.Request, error) {
	return s.review(ctx, reqID, dm.EventApprove, dm.Review{Notes: strings.TrimSpace(notes)})
}

// Deny rejects the request. A reason is required.
func (s *Service) Deny(ctx context.Context, reqID id.DeletionRequestID, reason string) (*dm.Request, error) {
	return s.review(ctx, reqID, dm.EventDeny, dm.Review{DenyReason: strings.TrimSpace(reason)})
}

var reviewActions = map[dm.Event]audit.Action{
	dm.EventApprove: audit.ActionDeletionApproved,
	dm.EventDeny:    audit.ActionDeletionDenied,
}

func (s *Service) review(ctx context.Context, reqID id.DeletionRequestID, ev dm.Event, review dm.Review) (*dm.Request, error) {
	review.Reviewer = requestcontext.ActorID(ctx)
	var req *dm.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = s.stores.Requests.FindByID(ctx, reqID); err != nil {
			return wrapLoad(err, "deletion request")
		}
		profile, err := s.stores.Profiles.FindByID(ctx, req.ProfileID)
		if err != nil {
			return wrapLoad(err, "profile")
		}
		if review.IsBoard, err = s.memberships.IsBoardMember(ctx, review.Reviewer); err != nil {
			return err
		}
		if err := req.ApplyReview(ev, review, profile.AccountID, requestcontext.Now(ctx)); err != nil {
			return err
		}
		extra := map[string]any{"notes": review.Notes}
		if ev == dm.EventDeny {
			extra = map[string]any{"reason": review.DenyReason}
		}
		if err := s.save(ctx, reviewActions[ev], req, extra); err != nil {
			return err
		}
		if ev != dm.EventApprove {
			return nil
		}
		return s.enqueueExecution(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("deletion", string(ev))
	s.logAudit(ctx, string(reviewActions[ev]), "deletion_request_id", reqID, "reviewer", review.Reviewer)
	return req, nil
}

// ResetFailed re-enables a failed execution and queues it again. It is the
// only way out of failed. A failed request is terminal, so the profile may
// have filed a newer one meanwhile; that one wins and the reset is refused.
func (s *Service) ResetFailed(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error) {
	var req *dm.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = s.stores.Requests.FindByID(ctx, reqID); err != nil {
			return wrapLoad(err, "deletion request")
		}
		board, err := s.memberships.IsBoardMember(ctx, requestcontext.ActorID(ctx))
		if err != nil {
			return err
		}
		if !board {
			return dErrors.New(dErrors.CodeForbidden, "only board members may reset a failed deletion")
		}
		previous := req.ErrorMessage
		if err := req.Apply(dm.EventResetFailed, requestcontext.Now(ctx)); err != nil {
			return err
		}
		open, err := s.stores.Requests.FindOpenByProfile(ctx, req.ProfileID)
		switch {
		case err == nil && open.ID != req.ID:
			return dErrors.New(dErrors.CodeConflict, "another deletion request is open for this profile")
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return wrapLoad(err, "deletion requests")
		}
		if err := s.save(ctx, audit.ActionDeletionReset, req, map[string]any{"previous_error": previous}); err != nil {
			return err
		}
		return s.enqueueExecution(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("deletion", string(dm.EventResetFailed))
	s.logAudit(ctx, string(audit.ActionDeletionReset), "deletion_request_id", reqID)
	return req, nil
}

func (s *Service) Get(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error) {
	req, err := s.stores.Requests.FindByID(ctx, reqID)
	if err != nil {
		return nil, wrapLoad(err, "deletion request")
	}
	return req, nil
}

// AwaitingReview lists confirmed requests for the board.
func (s *Service) AwaitingReview(ctx context.Context) ([]dm.Request, error) {
	reqs, err := s.stores.Requests.ListByStatus(ctx, dm.StatusUnderReview)
	if err != nil {
		return nil, wrapLoad(err, "deletion requests")
	}
	return reqs, nil
}

func (s *Service) enqueueExecution(ctx context.Context, reqID id.DeletionRequestID) error {
	if err := jobs.Enqueue(ctx, s.tasks, jobs.KindExecuteDelete, jobs.DeletionPayload{RequestID: reqID}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue deletion execution")
	}
	return nil
}

func (s *Service) save(ctx context.Context, action audit.Action, req *dm.Request, extra map[string]any) error {
	if err := s.stores.Requests.Save(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "a deletion request is already open for this profile")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save deletion request")
	}
	return s.emit(ctx, action, req, extra)
}

func (s *Service) send(ctx context.Context, kind notify.Kind, req *dm.Request, accountID id.AccountID, payload map[string]any) error {
	err := s.notifier.Send(ctx, notify.Event{
		Kind:           kind,
		IdempotencyKey: notify.Key(kind, req.ID),
		AccountID:      accountID,
		ProfileID:      req.ProfileID,
		Payload:        payload,
		OccurredAt:     requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue notification")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, req *dm.Request, extra map[string]any) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Entry{
		Action:     action,
		ProfileID:  req.ProfileID,
		EntityKind: audit.EntityDeletionRequest,
		EntityID:   req.ID.String(),
		Extra:      extra,
	})
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
