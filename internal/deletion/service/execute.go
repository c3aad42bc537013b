package service

import (
	"context"
	"errors"

	cm "membership/internal/consent/models"
	dm "membership/internal/deletion/models"
	"membership/internal/notify"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/requestcontext"
)

// Execute carries out an approved request. External access is revoked
// first; then, in one transaction, the account and profile are overwritten
// with pseudonyms, assignments, team memberships and consents are turned
// off, applications are redacted and self-assigned tags deleted. Any
// failure moves the request to failed with the cause recorded.
func (s *Service) Execute(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error) {
	var req *dm.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if req, err = s.stores.Requests.FindByID(ctx, reqID); err != nil {
			return wrapLoad(err, "deletion request")
		}
		if err := req.Apply(dm.EventStartExecution, requestcontext.Now(ctx)); err != nil {
			return err
		}
		return s.stores.Requests.Save(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Inc("deletion", string(dm.EventStartExecution))

	revoked, err := s.revokeAccess(ctx, req.ProfileID)
	if err == nil {
		var email string
		email, err = s.anonymize(ctx, req, revoked)
		if err == nil {
			s.transitions.Inc("deletion", string(dm.EventComplete))
			s.logAudit(ctx, string(audit.ActionDeletionExecuted),
				"deletion_request_id", req.ID,
				"profile_id", req.ProfileID,
				"permissions_revoked", revoked,
			)
			s.notifyExecuted(ctx, req, email)
			return req, nil
		}
	}

	s.logger.ErrorContext(ctx, "deletion execution failed", "deletion_request_id", req.ID, "error", err)
	if failErr := s.fail(ctx, req.ID, err); failErr != nil {
		return nil, errors.Join(err, failErr)
	}
	return nil, err
}

// revokeAccess removes every external grant and reports how many went.
func (s *Service) revokeAccess(ctx context.Context, profileID id.ProfileID) (int, error) {
	before, err := s.stores.Permissions.ActiveByProfile(ctx, profileID)
	if err != nil {
		return 0, wrapLoad(err, "permissions")
	}
	if len(before) == 0 {
		return 0, nil
	}
	if err := s.access.RevokeAll(ctx, profileID); err != nil {
		return 0, err
	}
	after, err := s.stores.Permissions.ActiveByProfile(ctx, profileID)
	if err != nil {
		return 0, wrapLoad(err, "permissions")
	}
	if len(after) > 0 {
		return 0, dErrors.New(dErrors.CodeExternalPermanent, "external permissions remain after revocation")
	}
	return len(before), nil
}

// anonymize rewrites the profile and completes the request. It returns the
// original email for the closing notification.
func (s *Service) anonymize(ctx context.Context, req *dm.Request, revoked int) (string, error) {
	var email string
	err := s.memberships.Track(ctx, []id.ProfileID{req.ProfileID}, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		profile, err := s.stores.Profiles.FindByID(ctx, req.ProfileID)
		if err != nil {
			return wrapLoad(err, "profile")
		}
		account, err := s.stores.Accounts.FindByID(ctx, profile.AccountID)
		if err != nil {
			return wrapLoad(err, "account")
		}
		email = account.Email
		pseudonym := s.anonymizer.Pseudonym(profile.ID, account.Email)
		log := &dm.AnonymizationLog{
			AccountFields:      []string{"email", "display_name"},
			ProfileFields:      []string{"legal_name", "country_of_residence"},
			PermissionsRevoked: revoked,
		}

		account.Email = s.anonymizer.Email(pseudonym)
		account.DisplayName = s.anonymizer.Name(pseudonym)
		account.UpdatedAt = now
		if err := s.stores.Accounts.Save(ctx, account); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to anonymize account")
		}
		profile.LegalName = s.anonymizer.Name(pseudonym)
		profile.CountryOfResidence = anonymizedCountry
		profile.AnonymizedAt = &now
		profile.UpdatedAt = now
		if err := s.stores.Profiles.Save(ctx, profile); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to anonymize profile")
		}

		assignments, err := s.stores.RoleAssignments.DeactivateByProfile(ctx, profile.ID, anonymizedNotePrefix, false, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate role assignments")
		}
		log.RoleAssignmentsDeactivated = len(assignments)
		if log.TeamMembershipsDeactivated, err = s.stores.Teams.DeactivateMemberships(ctx, profile.ID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate team memberships")
		}
		if log.ConsentsDeactivated, err = s.stores.Consents.DeactivateByProfile(ctx, profile.ID, cm.ReasonAnonymized, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate consents")
		}
		if log.ApplicationsRedacted, err = s.stores.Applications.RedactByAccount(ctx, account.ID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to redact applications")
		}
		if log.TagsDeleted, err = s.stores.Tags.DeleteSelfAssignable(ctx, profile.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete tags")
		}
		log.CompletedAt = now

		if err := req.Apply(dm.EventComplete, now); err != nil {
			return err
		}
		req.AnonymizationLog = log
		return s.save(ctx, audit.ActionDeletionExecuted, req, map[string]any{
			"role_assignments_deactivated": log.RoleAssignmentsDeactivated,
			"team_memberships_deactivated": log.TeamMembershipsDeactivated,
			"consents_deactivated":         log.ConsentsDeactivated,
			"applications_redacted":        log.ApplicationsRedacted,
			"tags_deleted":                 log.TagsDeleted,
			"permissions_revoked":          log.PermissionsRevoked,
		})
	})
	return email, err
}

func (s *Service) fail(ctx context.Context, reqID id.DeletionRequestID, cause error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.stores.Requests.FindByID(ctx, reqID)
		if err != nil {
			return wrapLoad(err, "deletion request")
		}
		if err := req.ApplyFailure(cause, requestcontext.Now(ctx)); err != nil {
			return err
		}
		s.transitions.Inc("deletion", string(dm.EventFail))
		return s.save(ctx, audit.ActionDeletionFailed, req, map[string]any{"error": cause.Error()})
	})
}

// notifyExecuted tells the original address the erasure happened. The
// account no longer carries that address, so it travels in the payload.
func (s *Service) notifyExecuted(ctx context.Context, req *dm.Request, email string) {
	err := s.send(ctx, notify.KindDeletionExecuted, req, id.AccountID{}, map[string]any{"email": email})
	if err != nil {
		s.logger.WarnContext(ctx, "deletion notification not queued", "deletion_request_id", req.ID, "error", err)
	}
}
