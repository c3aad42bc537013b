package httptransport

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"membership/internal/jobs"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/httputil"
)

// handleRunJob runs one periodic job inline and reports when it is done.
func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(chi.URLParam(r, "kind"))
	if !slices.Contains(jobs.ScheduledKinds, kind) {
		h.fail(w, r, dErrors.New(dErrors.CodeInvalidInput, "unknown job: "+string(kind)))
		return
	}
	if err := h.jobs.RunNow(r.Context(), kind, nil); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "job run by operator", "kind", kind)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"kind": string(kind), "status": "done"})
}
