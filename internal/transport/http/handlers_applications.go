package httptransport

import (
	"context"
	"net/http"

	apm "membership/internal/application/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/httputil"
	"membership/pkg/requestcontext"
)

// handleSubmitApplication files an application for the calling account.
func (h *Handler) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var sub apm.Submission
	if err := httputil.DecodeJSON(r, &sub); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	app, err := h.applications.Submit(ctx, requestcontext.ActorID(ctx), sub)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toApplication(app))
}

func (h *Handler) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	app, err := h.applications.Get(r.Context(), appID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toApplication(app))
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	app, err := h.applications.StartReview(r.Context(), appID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toApplication(app))
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.applications.Approve)
}

func (h *Handler) handleRejectApplication(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.applications.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decide func(context.Context, id.ApplicationID, string) (*apm.Application, error)) {
	appID, err := applicationParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req notesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	app, err := decide(r.Context(), appID, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toApplication(app))
}
