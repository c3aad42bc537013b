package httptransport

import (
	"net/http"

	"membership/pkg/platform/httputil"
)

func (h *Handler) handleRequestDeletion(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.deletions.Request(r.Context(), profileID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toDeletion(d))
}

type confirmRequest struct {
	Token string `json:"token"`
}

// handleConfirmDeletion is public: the emailed token is the credential.
func (h *Handler) handleConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.deletions.Confirm(r.Context(), req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeletion(d))
}

func (h *Handler) handleAwaitingReview(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.deletions.AwaitingReview(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]deletionResponse, 0, len(reqs))
	for i := range reqs {
		out = append(out, toDeletion(&reqs[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleApproveDeletion(w http.ResponseWriter, r *http.Request) {
	reqID, err := deletionParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req notesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.deletions.Approve(r.Context(), reqID, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeletion(d))
}

func (h *Handler) handleDenyDeletion(w http.ResponseWriter, r *http.Request) {
	reqID, err := deletionParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.deletions.Deny(r.Context(), reqID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeletion(d))
}

func (h *Handler) handleResetDeletion(w http.ResponseWriter, r *http.Request) {
	reqID, err := deletionParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.deletions.ResetFailed(r.Context(), reqID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeletion(d))
}
