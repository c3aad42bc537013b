package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"membership/pkg/platform/httputil"
)

func (h *Handler) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.exports.Request(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toExport(req))
}

func (h *Handler) handleListExports(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reqs, err := h.exports.List(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]exportResponse, 0, len(reqs))
	for i := range reqs {
		out = append(out, toExport(&reqs[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// handleDownloadExport streams the archive named by a signed download token.
func (h *Handler) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	a, err := h.exports.Download(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("X-Checksum-SHA256", a.Checksum)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		h.logger.WarnContext(r.Context(), "export download interrupted", "error", err)
	}
}
