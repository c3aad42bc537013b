package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	apm "membership/internal/application/models"
	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	exportservice "membership/internal/export/service"
	"membership/internal/jobs"
	mm "membership/internal/membership/models"
	"membership/internal/transport/http/mocks"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/middleware/actor"
	"membership/pkg/requestcontext"
	"membership/pkg/testutil"
)

const adminToken = "secret-token"

type RouterSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	members      *mocks.MockMemberships
	applications *mocks.MockApplications
	consents     *mocks.MockConsents
	deletions    *mocks.MockDeletions
	exports      *mocks.MockExports
	jobs         *mocks.MockJobs
	router       http.Handler
	account      id.AccountID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.members = mocks.NewMockMemberships(s.ctrl)
	s.applications = mocks.NewMockApplications(s.ctrl)
	s.consents = mocks.NewMockConsents(s.ctrl)
	s.deletions = mocks.NewMockDeletions(s.ctrl)
	s.exports = mocks.NewMockExports(s.ctrl)
	s.jobs = mocks.NewMockJobs(s.ctrl)
	s.account = id.New[id.AccountID]()
	h := New(s.members, s.applications, s.consents, s.deletions, s.exports, s.jobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAdminToken(adminToken),
	)
	s.router = h.Router()
}

func (s *RouterSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return testutil.Serve(s.router, testutil.NewJSONRequest(s.T(), method, path, body, headers))
}

func (s *RouterSuite) asActor() map[string]string {
	return map[string]string{actor.HeaderAccountID: s.account.String()}
}

func (s *RouterSuite) asAdmin() map[string]string {
	return map[string]string{actor.HeaderAccountID: s.account.String(), "X-Admin-Token": adminToken}
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

func (s *RouterSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestReady() {
	down := errors.New("dial tcp: connection refused")
	h := New(s.members, s.applications, s.consents, s.deletions, s.exports, s.jobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReadinessCheck("database", func(context.Context) error { return nil }),
		WithReadinessCheck("redis", func(context.Context) error { return down }),
	)
	rec := testutil.Serve(h.Router(), testutil.NewJSONRequest(s.T(), http.MethodGet, "/readyz", nil, nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	body := testutil.DecodeJSON[map[string]map[string]string](s.T(), rec)
	s.Equal(map[string]string{"database": "ok", "redis": "unavailable"}, body["checks"])

	rec = s.do(http.MethodGet, "/readyz", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestActorRequired() {
	rec := s.do(http.MethodGet, "/profiles/"+id.New[id.ProfileID]().String()+"/", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestErrorMapping() {
	pid := id.New[id.ProfileID]()

	s.Run("not found", func() {
		s.members.EXPECT().Overview(gomock.Any(), pid).Return(nil, dErrors.New(dErrors.CodeNotFound, "profile not found"))
		rec := s.do(http.MethodGet, "/profiles/"+pid.String()+"/", nil, s.asActor())
		body := rec.Body.String()
		testutil.AssertError(s.T(), rec, http.StatusNotFound, "not_found")
		s.Contains(body, "profile not found")
	})

	s.Run("internal errors hide their message", func() {
		s.members.EXPECT().Overview(gomock.Any(), pid).Return(nil, errors.New("connection reset"))
		rec := s.do(http.MethodGet, "/profiles/"+pid.String()+"/", nil, s.asActor())
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.NotContains(rec.Body.String(), "connection reset")
	})

	s.Run("malformed id", func() {
		rec := s.do(http.MethodGet, "/profiles/not-a-uuid/", nil, s.asActor())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *RouterSuite) TestSubmitApplication() {
	sub := apm.Submission{
		LegalName:             "Ana Pérez",
		CountryOfResidence:    "ES",
		RequestedRole:         mm.RoleColaborador,
		DataProcessingConsent: true,
	}
	appID := id.New[id.ApplicationID]()
	s.applications.EXPECT().Submit(gomock.Any(), s.account, sub).
		Return(&apm.Application{ID: appID, AccountID: s.account, Status: apm.StatusSubmitted, LegalName: sub.LegalName}, nil)

	rec := s.do(http.MethodPost, "/applications", sub, s.asActor())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var out applicationResponse
	s.decode(rec, &out)
	s.Equal(appID.String(), out.ID)
	s.Equal("submitted", out.Status)

	s.Run("unknown fields are rejected", func() {
		rec := s.do(http.MethodPost, "/applications", map[string]any{"legal_name": "x", "admin": true}, s.asActor())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *RouterSuite) TestRecordConsent() {
	pid := id.New[id.ProfileID]()
	vid := id.New[id.VersionID]()
	s.consents.EXPECT().Record(gomock.Any(), pid, vid, cm.ViewingContext{Language: "es"}).
		Return(&cm.ConsentRecord{ID: id.New[id.ConsentID](), ProfileID: pid, VersionID: vid, IsActive: true}, nil)

	rec := s.do(http.MethodPost, "/profiles/"+pid.String()+"/consents",
		map[string]string{"version_id": vid.String(), "language": "es"}, s.asActor())
	s.Require().Equal(http.StatusCreated, rec.Code)
	var out consentResponse
	s.decode(rec, &out)
	s.Equal(vid.String(), out.VersionID)
	s.True(out.IsActive)

	s.Run("already consented", func() {
		s.consents.EXPECT().Record(gomock.Any(), pid, vid, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeAlreadyConsented, "version 1 is already accepted"))
		rec := s.do(http.MethodPost, "/profiles/"+pid.String()+"/consents",
			map[string]string{"version_id": vid.String()}, s.asActor())
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *RouterSuite) TestAdminRoutes() {
	did := id.New[id.DeletionRequestID]()

	s.Run("token required", func() {
		rec := s.do(http.MethodPost, "/admin/deletions/"+did.String()+"/approve", map[string]string{}, s.asActor())
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("approve deletion carries the reviewer", func() {
		s.deletions.EXPECT().Approve(gomock.Any(), did, "ok").
			DoAndReturn(func(ctx context.Context, reqID id.DeletionRequestID, _ string) (*dm.Request, error) {
				s.Equal(s.account, requestcontext.ActorID(ctx))
				return &dm.Request{ID: reqID, Status: dm.StatusApproved}, nil
			})
		rec := s.do(http.MethodPost, "/admin/deletions/"+did.String()+"/approve", map[string]string{"notes": "ok"}, s.asAdmin())
		s.Require().Equal(http.StatusOK, rec.Code)
		var out deletionResponse
		s.decode(rec, &out)
		s.Equal("approved", out.Status)
	})

	s.Run("assign role parses the start date", func() {
		pid := id.New[id.ProfileID]()
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		s.members.EXPECT().AssignRole(gomock.Any(), pid, mm.RoleAsociado, start, "").
			Return(&mm.RoleAssignment{ID: id.New[id.RoleAssignmentID](), Role: mm.RoleAsociado, StartDate: start, EndDate: start.AddDate(2, 0, 0)}, nil)
		rec := s.do(http.MethodPost, "/admin/profiles/"+pid.String()+"/roles",
			map[string]string{"role": "asociado", "start_date": "2026-03-01"}, s.asAdmin())
		s.Require().Equal(http.StatusCreated, rec.Code)
		var out roleAssignmentResponse
		s.decode(rec, &out)
		s.Equal("2028-03-01", out.EndDate)
	})

	s.Run("bad start date", func() {
		rec := s.do(http.MethodPost, "/admin/profiles/"+id.New[id.ProfileID]().String()+"/roles",
			map[string]string{"role": "asociado", "start_date": "01/03/2026"}, s.asAdmin())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *RouterSuite) TestRunJob() {
	s.Run("known job", func() {
		s.jobs.EXPECT().RunNow(gomock.Any(), jobs.KindExpirySweep, nil).Return(nil)
		rec := s.do(http.MethodPost, "/admin/jobs/"+string(jobs.KindExpirySweep), nil, s.asAdmin())
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("unknown job", func() {
		rec := s.do(http.MethodPost, "/admin/jobs/drop.tables", nil, s.asAdmin())
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("event driven jobs are not operator triggered", func() {
		rec := s.do(http.MethodPost, "/admin/jobs/"+string(jobs.KindGenerateExport), nil, s.asAdmin())
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *RouterSuite) TestDownloadExport() {
	s.Run("streams the archive", func() {
		s.exports.EXPECT().Download(gomock.Any(), "tok").
			Return(&exportservice.Archive{Filename: "export.zip", Data: []byte("PK\x03\x04"), Checksum: "abc"}, nil)
		rec := s.do(http.MethodGet, "/exports/download/tok", nil, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("application/zip", rec.Header().Get("Content-Type"))
		s.Contains(rec.Header().Get("Content-Disposition"), "export.zip")
		s.Equal("abc", rec.Header().Get("X-Checksum-SHA256"))
		s.Equal([]byte("PK\x03\x04"), rec.Body.Bytes())
	})

	s.Run("expired token", func() {
		s.exports.EXPECT().Download(gomock.Any(), "old").Return(nil, dErrors.New(dErrors.CodeForbidden, "download link expired"))
		rec := s.do(http.MethodGet, "/exports/download/old", nil, nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *RouterSuite) TestConfirmDeletionIsPublic() {
	s.deletions.EXPECT().Confirm(gomock.Any(), "emailed").
		Return(&dm.Request{ID: id.New[id.DeletionRequestID](), Status: dm.StatusUnderReview}, nil)
	rec := s.do(http.MethodPost, "/deletions/confirm", map[string]string{"token": "emailed"}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var out deletionResponse
	s.decode(rec, &out)
	s.Equal("under_review", out.Status)
}
