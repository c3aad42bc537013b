package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	cm "membership/internal/consent/models"
	"membership/internal/export/archive"
	em "membership/internal/export/models"
	"membership/internal/export/service/mocks"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	"membership/internal/notify"
	"membership/internal/storage"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/audit/publishers/compliance"
	"membership/pkg/requestcontext"
)

const window = 7 * 24 * time.Hour

type ExportServiceSuite struct {
	suite.Suite
	stores   *storage.Stores
	archives *archive.Memory
	queue    *jobs.MemoryQueue
	notifier *notify.Recorder
	tokens   *DownloadTokens
	service  *Service

	now     time.Time
	profile *mm.Profile
}

func TestExportServiceSuite(t *testing.T) {
	suite.Run(t, new(ExportServiceSuite))
}

func (s *ExportServiceSuite) SetupTest() {
	s.stores = storage.New()
	s.archives = archive.NewMemory()
	s.queue = jobs.NewMemoryQueue()
	s.notifier = notify.NewRecorder()
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var err error
	s.tokens, err = NewDownloadTokens("export-key")
	s.Require().NoError(err)
	s.service = s.newService(s.archives)

	ctx := s.at(s.now)
	account := &mm.Account{ID: id.New[id.AccountID](), Email: "ana@example.org"}
	s.Require().NoError(s.stores.Accounts.Save(ctx, account))
	s.profile = &mm.Profile{ID: id.New[id.ProfileID](), AccountID: account.ID, LegalName: "Ana Pérez", CountryOfResidence: "ES"}
	s.Require().NoError(s.stores.Profiles.Save(ctx, s.profile))
	s.Require().NoError(s.stores.RoleAssignments.Save(ctx, &mm.RoleAssignment{
		ID: id.New[id.RoleAssignmentID](), ProfileID: s.profile.ID, Role: mm.RoleAsociado, IsActive: true,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	s.Require().NoError(s.stores.Consents.Insert(ctx, &cm.ConsentRecord{
		ID: id.New[id.ConsentID](), ProfileID: s.profile.ID, DocumentID: id.New[id.DocumentID](),
		VersionID: id.New[id.VersionID](), ConsentedAt: s.now, IsActive: true,
	}))
	s.Require().NoError(s.stores.Tags.Add(ctx, mm.ProfileTag{ProfileID: s.profile.ID, TagID: id.New[id.TagID](), Name: "photography"}))
}

func (s *ExportServiceSuite) newService(archives ArchiveStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s.stores.DB, Stores{
		Requests:        s.stores.Exports,
		Accounts:        s.stores.Accounts,
		Profiles:        s.stores.Profiles,
		RoleAssignments: s.stores.RoleAssignments,
		Consents:        s.stores.Consents,
		Teams:           s.stores.Teams,
		Tags:            s.stores.Tags,
		Applications:    s.stores.Applications,
		AccessLogs:      s.stores.Access,
		Audit:           s.stores.Audit,
		Changes:         s.stores.Changes,
	}, archives, s.queue, s.notifier, s.tokens, window,
		WithLogger(logger), WithAuditPublisher(compliance.New(s.stores.Audit, compliance.WithLogger(logger))))
}

func (s *ExportServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ExportServiceSuite) generated() *em.Request {
	req, err := s.service.Request(s.at(s.now), s.profile.ID)
	s.Require().NoError(err)
	done, err := s.service.Generate(s.at(s.now), req.ID)
	s.Require().NoError(err)
	return done
}

func (s *ExportServiceSuite) token() string {
	ready := s.notifier.Events(notify.KindExportReady)
	s.Require().NotEmpty(ready)
	token, ok := ready[len(ready)-1].Payload["token"].(string)
	s.Require().True(ok)
	return token
}

func (s *ExportServiceSuite) TestRequestQueuesGeneration() {
	req, err := s.service.Request(s.at(s.now), s.profile.ID)
	s.Require().NoError(err)
	s.Equal(em.StatusPending, req.Status)

	tasks := s.queue.Pending()
	s.Require().Len(tasks, 1)
	s.Equal(jobs.KindGenerateExport, tasks[0].Kind)
	var p jobs.ExportPayload
	s.Require().NoError(tasks[0].Decode(&p))
	s.Equal(req.ID, p.RequestID)

	s.Run("one export in flight", func() {
		_, err := s.service.Request(s.at(s.now), s.profile.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown profile", func() {
		_, err := s.service.Request(s.at(s.now), id.New[id.ProfileID]())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ExportServiceSuite) TestGenerateAndDownload() {
	done := s.generated()
	s.Equal(em.StatusCompleted, done.Status)
	s.NotEmpty(done.Checksum)
	s.Positive(done.SizeBytes)
	s.Require().NotNil(done.ExpiresAt)
	s.Equal(s.now.Add(window), *done.ExpiresAt)
	s.Equal(1, s.archives.Len())

	got, err := s.service.Download(s.at(s.now.Add(time.Hour)), s.token())
	s.Require().NoError(err)
	s.Equal(done.Checksum, got.Checksum)

	zr, err := zip.NewReader(bytes.NewReader(got.Data), int64(len(got.Data)))
	s.Require().NoError(err)
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	s.Contains(names, "README.txt")
	s.Contains(names, "consent_records.json")
	s.Require().Contains(names, "profile.json")
	rc, err := names["profile.json"].Open()
	s.Require().NoError(err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	s.Require().NoError(err)
	s.Contains(string(body), "Ana Pérez")

	s.Run("completed is not regenerated", func() {
		_, err := s.service.Generate(s.at(s.now), done.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("a new export can be requested", func() {
		_, err := s.service.Request(s.at(s.now), s.profile.ID)
		s.NoError(err)
	})
}

func (s *ExportServiceSuite) TestDownloadDetectsTampering() {
	done := s.generated()
	s.Require().NoError(s.archives.Put(s.at(s.now), done.ArchiveKey, []byte("tampered"), window))

	_, err := s.service.Download(s.at(s.now), s.token())
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
}

func (s *ExportServiceSuite) TestGenerateFailureCanBeRetried() {
	archives := mocks.NewMockArchiveStore(gomock.NewController(s.T()))
	svc := s.newService(archives)
	req, err := svc.Request(s.at(s.now), s.profile.ID)
	s.Require().NoError(err)

	archives.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), window).Return(errors.New("connection refused"))
	_, err = svc.Generate(s.at(s.now), req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeExternalTransient))

	failed, err := svc.Get(s.at(s.now), req.ID)
	s.Require().NoError(err)
	s.Equal(em.StatusFailed, failed.Status)
	s.Contains(failed.ErrorMessage, "connection refused")
	s.Empty(s.notifier.Events(notify.KindExportReady))

	archives.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), window).Return(nil)
	done, err := svc.Generate(s.at(s.now), req.ID)
	s.Require().NoError(err)
	s.Equal(em.StatusCompleted, done.Status)
	s.Empty(done.ErrorMessage)
}

func (s *ExportServiceSuite) TestCleanupExpired() {
	done := s.generated()
	token := s.token()

	n, err := s.service.CleanupExpired(s.at(s.now.Add(24 * time.Hour)))
	s.Require().NoError(err)
	s.Zero(n)

	later := s.at(s.now.Add(window + time.Minute))
	n, err = s.service.CleanupExpired(later)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Zero(s.archives.Len())

	expired, err := s.service.Get(later, done.ID)
	s.Require().NoError(err)
	s.Equal(em.StatusExpired, expired.Status)
	s.Empty(expired.ArchiveKey)

	_, err = s.service.Download(later, token)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	n, err = s.service.CleanupExpired(later)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ExportServiceSuite) TestCollect() {
	s.generated()

	b, err := s.service.Collect(s.at(s.now), s.profile.ID)
	s.Require().NoError(err)
	s.Equal("ana@example.org", b.Account.Email)
	s.Len(b.RoleAssignments, 1)
	s.Len(b.Consents, 1)
	s.Len(b.Tags, 1)
	var actions []audit.Action
	for _, e := range b.AuditLog {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, audit.ActionExportRequested)
	s.Contains(actions, audit.ActionExportCompleted)

	_, err = s.service.Collect(s.at(s.now), id.New[id.ProfileID]())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
