package httptransport

import (
	"net/http"

	cm "membership/internal/consent/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/httputil"
)

func (h *Handler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.consents.Documents(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]documentResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toDocument(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePendingDocuments(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pending, err := h.consents.PendingDocuments(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPending(pending))
}

type recordConsentRequest struct {
	VersionID string `json:"version_id"`
	Language  string `json:"language"`
}

// handleRecordConsent accepts a document version. IP and user agent come
// from the request metadata.
func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req recordConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	versionID, err := id.ParseVersionID(req.VersionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.consents.Record(r.Context(), profileID, versionID, cm.ViewingContext{Language: req.Language})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toConsent(*rec))
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	consentID, err := consentParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rev, err := h.consents.Revoke(r.Context(), consentID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRevocation(*rev))
}

func (h *Handler) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs, revs, err := h.consents.History(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := struct {
		Consents    []consentResponse    `json:"consents"`
		Revocations []revocationResponse `json:"revocations"`
	}{
		Consents:    make([]consentResponse, 0, len(recs)),
		Revocations: make([]revocationResponse, 0, len(revs)),
	}
	for _, c := range recs {
		out.Consents = append(out.Consents, toConsent(c))
	}
	for _, rv := range revs {
		out.Revocations = append(out.Revocations, toRevocation(rv))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
