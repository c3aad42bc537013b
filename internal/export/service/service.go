// Package service produces personal data exports: it collects every record
// held about a profile, packs them into a zip archive, hands out a signed
// download link and expires the archive when the link does.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ArchiveStore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	am "membership/internal/access/models"
	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	em "membership/internal/export/models"
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
	FindByID(ctx context.Context, reqID id.ExportRequestID) (*em.Request, error)
	Save(ctx context.Context, req *em.Request) error
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]em.Request, error)
	ListExpired(ctx context.Context, now time.Time) ([]em.Request, error)
}

type AccountStore interface {
	FindByID(ctx context.Context, accountID id.AccountID) (*mm.Account, error)
}

type ProfileStore interface {
	FindByID(ctx context.Context, profileID id.ProfileID) (*mm.Profile, error)
}

type RoleAssignmentStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.RoleAssignment, error)
}

type ConsentStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRecord, error)
	ListRevocations(ctx context.Context, profileID id.ProfileID) ([]cm.ConsentRevocation, error)
}

type TeamStore interface {
	ListMemberships(ctx context.Context, profileID id.ProfileID) ([]mm.TeamMembership, error)
}

type TagStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ProfileTag, error)
}

type ApplicationStore interface {
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]apm.Application, error)
}

type AccessLogStore interface {
	ListLogsByProfile(ctx context.Context, profileID id.ProfileID) ([]am.PermissionLog, error)
}

type AuditStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]audit.Entry, error)
}

type ChangeStore interface {
	ListByProfile(ctx context.Context, profileID id.ProfileID) ([]mm.ChangeRecord, error)
}

// ArchiveStore keeps generated archives. ttl is a hint; the cleanup sweep
// deletes expired archives either way.
type ArchiveStore interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Stores groups the read side an export draws from.
type Stores struct {
	Requests        RequestStore
	Accounts        AccountStore
	Profiles        ProfileStore
	RoleAssignments RoleAssignmentStore
	Consents        ConsentStore
	Teams           TeamStore
	Tags            TagStore
	Applications    ApplicationStore
	AccessLogs      AccessLogStore
	Audit           AuditStore
	Changes         ChangeStore
}

type Service struct {
	tx             tx.Runner
	stores         Stores
	archives       ArchiveStore
	tasks          jobs.Enqueuer
	notifier       notify.Notifier
	tokens         *DownloadTokens
	ttl            time.Duration
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

// New builds the export service. ttl is the download window of a completed
// export.
func New(runner tx.Runner, stores Stores, archives ArchiveStore, tasks jobs.Enqueuer, notifier notify.Notifier, tokens *DownloadTokens, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		tx:       runner,
		stores:   stores,
		archives: archives,
		tasks:    tasks,
		notifier: notifier,
		tokens:   tokens,
		ttl:      ttl,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request files an export for the profile and queues its generation. A
// profile has at most one export pending or in progress.
func (s *Service) Request(ctx context.Context, profileID id.ProfileID) (*em.Request, error) {
	var req *em.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		profile, err := s.stores.Profiles.FindByID(ctx, profileID)
		if err != nil {
			return wrapLoad(err, "profile")
		}
		if profile.IsAnonymized() {
			return dErrors.New(dErrors.CodeInvalidTransition, "profile is anonymized")
		}
		existing, err := s.stores.Requests.ListByProfile(ctx, profileID)
		if err != nil {
			return wrapLoad(err, "export requests")
		}
		for _, r := range existing {
			if r.Status == em.StatusPending || r.Status == em.StatusProcessing {
				return dErrors.New(dErrors.CodeConflict, "an export is already in progress")
			}
		}
		req = &em.Request{
			ID:          id.New[id.ExportRequestID](),
			ProfileID:   profileID,
			Status:      em.StatusPending,
			RequestedBy: requestcontext.ActorID(ctx),
			RequestedAt: requestcontext.Now(ctx),
		}
		if err := s.save(ctx, audit.ActionExportRequested, req, nil); err != nil {
			return err
		}
		if err := jobs.Enqueue(ctx, s.tasks, jobs.KindGenerateExport, jobs.ExportPayload{RequestID: req.ID}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue export generation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("export", "request")
	s.logAudit(ctx, string(audit.ActionExportRequested), "profile_id", profileID, "export_request_id", req.ID)
	return req, nil
}

// Collect gathers every record held about a profile.
func (s *Service) Collect(ctx context.Context, profileID id.ProfileID) (*em.Bundle, error) {
	profile, err := s.stores.Profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, wrapLoad(err, "profile")
	}
	account, err := s.stores.Accounts.FindByID(ctx, profile.AccountID)
	if err != nil {
		return nil, wrapLoad(err, "account")
	}
	b := &em.Bundle{
		GeneratedAt: requestcontext.Now(ctx),
		Account:     *account,
		Profile:     *profile,
	}
	if b.RoleAssignments, err = s.stores.RoleAssignments.ListByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "role assignments")
	}
	if b.Consents, err = s.stores.Consents.ListByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "consent records")
	}
	if b.Revocations, err = s.stores.Consents.ListRevocations(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "consent revocations")
	}
	if b.Teams, err = s.stores.Teams.ListMemberships(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "team memberships")
	}
	if b.Tags, err = s.stores.Tags.ListByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "tags")
	}
	if b.Applications, err = s.stores.Applications.ListByAccount(ctx, account.ID); err != nil {
		return nil, wrapLoad(err, "applications")
	}
	if b.AccessLogs, err = s.stores.AccessLogs.ListLogsByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "access logs")
	}
	if b.AuditLog, err = s.stores.Audit.ListByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "audit log")
	}
	if b.Changes, err = s.stores.Changes.ListByProfile(ctx, profileID); err != nil {
		return nil, wrapLoad(err, "change history")
	}
	return b, nil
}

// Generate builds and stores the archive of a pending or failed export, then
// sends the export_ready notification with the download token.
func (s *Service) Generate(ctx context.Context, reqID id.ExportRequestID) (*em.Request, error) {
	var req *em.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = s.stores.Requests.FindByID(ctx, reqID); err != nil {
			return wrapLoad(err, "export request")
		}
		if err := req.ApplyProcessing(); err != nil {
			return err
		}
		if err := s.stores.Requests.Save(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save export request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	done, err := s.build(ctx, req)
	if err != nil {
		s.logger.ErrorContext(ctx, "export generation failed", "export_request_id", reqID, "error", err)
		if failErr := s.fail(ctx, reqID, err); failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		return nil, err
	}
	s.transitions.Inc("export", "complete")
	s.logAudit(ctx, string(audit.ActionExportCompleted),
		"export_request_id", reqID,
		"profile_id", done.ProfileID,
		"size_bytes", done.SizeBytes,
	)
	return done, nil
}

func (s *Service) build(ctx context.Context, req *em.Request) (*em.Request, error) {
	now := requestcontext.Now(ctx)
	bundle, err := s.Collect(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	data, sum, err := packBundle(bundle, now.Add(s.ttl))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to pack export")
	}
	key := fmt.Sprintf("export_%s_%s.zip", req.ProfileID, now.Format("20060102_150405"))
	if err := s.archives.Put(ctx, key, data, s.ttl); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalTransient, "failed to store export archive")
	}

	var done *em.Request
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if done, err = s.stores.Requests.FindByID(ctx, req.ID); err != nil {
			return wrapLoad(err, "export request")
		}
		if done.Status != em.StatusProcessing {
			return dErrors.New(dErrors.CodeInvalidTransition, "export is "+string(done.Status))
		}
		done.ApplyCompleted(key, sum, int64(len(data)), now, s.ttl)
		token, err := s.tokens.Issue(done, now)
		if err != nil {
			return err
		}
		if err := s.save(ctx, audit.ActionExportCompleted, done, map[string]any{"size_bytes": done.SizeBytes, "checksum": sum}); err != nil {
			return err
		}
		return s.send(ctx, done, token)
	})
	if err != nil {
		if delErr := s.archives.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "orphaned export archive", "key", key, "error", delErr)
		}
		return nil, err
	}
	return done, nil
}

func (s *Service) fail(ctx context.Context, reqID id.ExportRequestID, cause error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.stores.Requests.FindByID(ctx, reqID)
		if err != nil {
			return wrapLoad(err, "export request")
		}
		req.ApplyFailed(cause)
		s.transitions.Inc("export", "fail")
		return s.save(ctx, audit.ActionExportFailed, req, map[string]any{"error": cause.Error()})
	})
}

// Archive is a downloadable export.
type Archive struct {
	Filename string
	Data     []byte
	Checksum string
}

// Download resolves a download token to its archive. The stored checksum is
// verified before anything is returned.
func (s *Service) Download(ctx context.Context, token string) (*Archive, error) {
	now := requestcontext.Now(ctx)
	reqID, err := s.tokens.Parse(token, now)
	if err != nil {
		return nil, err
	}
	req, err := s.stores.Requests.FindByID(ctx, reqID)
	if err != nil {
		return nil, wrapLoad(err, "export request")
	}
	if req.Status != em.StatusCompleted || req.IsExpired(now) {
		return nil, dErrors.New(dErrors.CodeForbidden, "export is not available for download")
	}
	data, err := s.archives.Get(ctx, req.ArchiveKey)
	if err != nil {
		return nil, wrapLoad(err, "export archive")
	}
	if got := checksum(data); got != req.Checksum {
		s.logger.ErrorContext(ctx, "export archive failed integrity check", "export_request_id", req.ID)
		return nil, dErrors.New(dErrors.CodeIntegrityViolation, "export archive does not match its checksum")
	}
	if err := s.emit(ctx, audit.ActionExportDownloaded, req, nil); err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.ActionExportDownloaded), "export_request_id", req.ID)
	return &Archive{Filename: req.ArchiveKey, Data: data, Checksum: req.Checksum}, nil
}

// CleanupExpired deletes archives whose download window closed and marks
// their requests expired. Rerunning finds nothing new.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	expired, err := s.stores.Requests.ListExpired(ctx, now)
	if err != nil {
		return 0, wrapLoad(err, "expired exports")
	}
	n := 0
	for i := range expired {
		req := &expired[i]
		if err := s.archives.Delete(ctx, req.ArchiveKey); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete export archive", "export_request_id", req.ID, "error", err)
			continue
		}
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			req.ApplyExpired()
			return s.save(ctx, audit.ActionExportExpired, req, nil)
		})
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logAudit(ctx, string(audit.ActionExportExpired), "count", n)
	}
	return n, nil
}

// List returns a profile's exports, oldest first.
func (s *Service) List(ctx context.Context, profileID id.ProfileID) ([]em.Request, error) {
	reqs, err := s.stores.Requests.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, wrapLoad(err, "export requests")
	}
	return reqs, nil
}

func (s *Service) Get(ctx context.Context, reqID id.ExportRequestID) (*em.Request, error) {
	req, err := s.stores.Requests.FindByID(ctx, reqID)
	if err != nil {
		return nil, wrapLoad(err, "export request")
	}
	return req, nil
}

func (s *Service) save(ctx context.Context, action audit.Action, req *em.Request, extra map[string]any) error {
	if err := s.stores.Requests.Save(ctx, req); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save export request")
	}
	return s.emit(ctx, action, req, extra)
}

func (s *Service) send(ctx context.Context, req *em.Request, token string) error {
	profile, err := s.stores.Profiles.FindByID(ctx, req.ProfileID)
	if err != nil {
		return wrapLoad(err, "profile")
	}
	err = s.notifier.Send(ctx, notify.Event{
		Kind:           notify.KindExportReady,
		IdempotencyKey: notify.Key(notify.KindExportReady, req.ID),
		AccountID:      profile.AccountID,
		ProfileID:      req.ProfileID,
		Payload: map[string]any{
			"request_id": req.ID.String(),
			"token":      token,
			"expires_at": req.ExpiresAt.Format(time.RFC3339),
			"size_bytes": req.SizeBytes,
		},
		OccurredAt: requestcontext.Now(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue export notification")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, req *em.Request, extra map[string]any) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Entry{
		Action:     action,
		ProfileID:  req.ProfileID,
		EntityKind: audit.EntityExportRequest,
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
