package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "membership/pkg/domain"
)

func profileParam(r *http.Request) (id.ProfileID, error) {
	return id.ParseProfileID(chi.URLParam(r, "profileID"))
}

func teamParam(r *http.Request) (id.TeamID, error) {
	return id.ParseTeamID(chi.URLParam(r, "teamID"))
}

func applicationParam(r *http.Request) (id.ApplicationID, error) {
	return id.ParseApplicationID(chi.URLParam(r, "applicationID"))
}

func consentParam(r *http.Request) (id.ConsentID, error) {
	return id.ParseConsentID(chi.URLParam(r, "consentID"))
}

func deletionParam(r *http.Request) (id.DeletionRequestID, error) {
	return id.ParseDeletionRequestID(chi.URLParam(r, "deletionID"))
}
