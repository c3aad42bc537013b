// Package httptransport is the JSON API over the membership services. It
// decodes requests, calls one service method and encodes the result; every
// rule lives in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"membership/internal/platform/metrics"
	"membership/pkg/platform/httputil"
	"membership/pkg/platform/middleware/actor"
	"membership/pkg/platform/middleware/admin"
	"membership/pkg/platform/middleware/metadata"
	"membership/pkg/platform/middleware/requesttime"
)

// Handler holds the services the API exposes.
type Handler struct {
	members      Memberships
	applications Applications
	consents     Consents
	deletions    Deletions
	exports      Exports
	jobs         Jobs
	logger       *slog.Logger
	metrics      *metrics.Metrics
	adminTokens  []string
	readiness    map[string]Check
}

// Check reports whether a dependency can serve traffic.
type Check func(ctx context.Context) error

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAdminToken enables the /admin routes behind X-Admin-Token. token may
// hold several comma-separated values.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminTokens = admin.ParseTokens(token)
	}
}

// WithReadinessCheck adds a dependency to /readyz.
func WithReadinessCheck(name string, check Check) Option {
	return func(h *Handler) {
		if h.readiness == nil {
			h.readiness = map[string]Check{}
		}
		h.readiness[name] = check
	}
}

func New(members Memberships, applications Applications, consents Consents, deletions Deletions, exports Exports, jobs Jobs, opts ...Option) *Handler {
	h := &Handler{
		members:      members,
		applications: applications,
		consents:     consents,
		deletions:    deletions,
		exports:      exports,
		jobs:         jobs,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Timeout(30 * time.Second))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.handleReady)
	r.Get("/documents", h.handleDocuments)
	r.Post("/deletions/confirm", h.handleConfirmDeletion)
	r.Get("/exports/download/{token}", h.handleDownloadExport)

	r.Group(func(r chi.Router) {
		r.Use(actor.RequireActor(h.logger))
		r.Post("/applications", h.handleSubmitApplication)
		r.Get("/applications/{applicationID}", h.handleGetApplication)

		r.Route("/profiles/{profileID}", func(r chi.Router) {
			r.Get("/", h.handleOverview)
			r.Get("/documents/pending", h.handlePendingDocuments)
			r.Get("/consents", h.handleConsentHistory)
			r.Post("/consents", h.handleRecordConsent)
			r.Post("/teams/{teamID}", h.handleJoinTeam)
			r.Delete("/teams/{teamID}", h.handleLeaveTeam)
			r.Post("/deletion", h.handleRequestDeletion)
			r.Get("/exports", h.handleListExports)
			r.Post("/exports", h.handleRequestExport)
		})
		r.Delete("/consents/{consentID}", h.handleRevokeConsent)
	})

	if len(h.adminTokens) > 0 {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireToken(h.adminTokens, h.logger))
			r.Use(actor.RequireActor(h.logger))
			r.Post("/applications/{applicationID}/review", h.handleStartReview)
			r.Post("/applications/{applicationID}/approve", h.handleApproveApplication)
			r.Post("/applications/{applicationID}/reject", h.handleRejectApplication)
			r.Post("/profiles/{profileID}/roles", h.handleAssignRole)
			r.Post("/profiles/{profileID}/remove", h.handleRemoveMember)
			r.Get("/profiles/{profileID}/history", h.handleChangeHistory)
			r.Get("/deletions", h.handleAwaitingReview)
			r.Post("/deletions/{deletionID}/approve", h.handleApproveDeletion)
			r.Post("/deletions/{deletionID}/deny", h.handleDenyDeletion)
			r.Post("/deletions/{deletionID}/reset", h.handleResetDeletion)
			r.Post("/jobs/{kind}", h.handleRunJob)
		})
	}
	return r
}

// fail logs server-side failures and writes the coded error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	checks := make(map[string]string, len(h.readiness))
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"checks": checks})
}
