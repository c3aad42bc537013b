package httptransport

import (
	"net/http"
	"time"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/httputil"
)

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.members.Overview(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOverview(o))
}

type assignRoleRequest struct {
	Role      mm.Role `json:"role"`
	StartDate string  `json:"start_date"`
	Notes     string  `json:"notes"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	var start time.Time
	if req.StartDate != "" {
		if start, err = time.Parse(time.DateOnly, req.StartDate); err != nil {
			h.fail(w, r, dErrors.New(dErrors.CodeInvalidInput, "start_date must be YYYY-MM-DD"))
			return
		}
	}
	ra, err := h.members.AssignRole(r.Context(), profileID, req.Role, start, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRoleAssignment(ra))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
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
	if err := h.members.RemoveMember(r.Context(), profileID, req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangeHistory(w http.ResponseWriter, r *http.Request) {
	profileID, err := profileParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	changes, err := h.members.ChangeHistory(r.Context(), profileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]changeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, toChange(c))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleJoinTeam(w http.ResponseWriter, r *http.Request) {
	profileID, teamID, err := profileAndTeam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.members.JoinTeam(r.Context(), profileID, teamID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTeamMembership(*m))
}

func (h *Handler) handleLeaveTeam(w http.ResponseWriter, r *http.Request) {
	profileID, teamID, err := profileAndTeam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.members.LeaveTeam(r.Context(), profileID, teamID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func profileAndTeam(r *http.Request) (id.ProfileID, id.TeamID, error) {
	profileID, err := profileParam(r)
	if err != nil {
		return id.ProfileID{}, id.TeamID{}, err
	}
	teamID, err := teamParam(r)
	return profileID, teamID, err
}
