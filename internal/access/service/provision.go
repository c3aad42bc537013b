package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"membership/internal/access/drive"
	am "membership/internal/access/models"
	"membership/internal/membership/entitlement"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/requestcontext"
)

// outcome of one grant or revoke attempt.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeLogical
	outcomeCalled
)

// grantable members may receive new grants.
func grantable(m am.Member) bool {
	return entitlement.GrantsAccess(m.Status)
}

// retains reports whether the member keeps the grants it already holds.
func retains(m am.Member) bool {
	return entitlement.HasAccess(m.Status)
}

// ProvisionRole grants every role-based resource the profile's current role
// implies and it does not hold yet. Rate limits and outages come back as
// external_transient errors for the caller to retry; other failures are
// left FAILED in the log for the retry sweep.
func (s *Service) ProvisionRole(ctx context.Context, profileID id.ProfileID) error {
	ctx, span := s.tracer.Start(ctx, "access.provision_role", trace.WithAttributes(
		attribute.String("profile.id", profileID.String())))
	defer span.End()

	member, err := s.member(ctx, profileID)
	if err != nil {
		return err
	}
	if !grantable(member) || member.Role == "" {
		s.logger.InfoContext(ctx, "skipping role provisioning", "profile_id", profileID, "status", member.Status)
		return nil
	}
	rules, err := s.store.Rules(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access rules")
	}
	return s.provision(ctx, span, member, rules, rules.RoleGrants(member.Role), false)
}

// ProvisionTeam grants the resources team rules attach to teamID. A resource
// the profile already reaches through any provenance is skipped.
func (s *Service) ProvisionTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) error {
	ctx, span := s.tracer.Start(ctx, "access.provision_team", trace.WithAttributes(
		attribute.String("profile.id", profileID.String()),
		attribute.String("team.id", teamID.String())))
	defer span.End()

	member, err := s.member(ctx, profileID)
	if err != nil {
		return err
	}
	if !grantable(member) || !slices.Contains(member.Teams, teamID) {
		s.logger.InfoContext(ctx, "skipping team provisioning", "profile_id", profileID, "team_id", teamID, "status", member.Status)
		return nil
	}
	rules, err := s.store.Rules(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access rules")
	}
	return s.provision(ctx, span, member, rules, rules.TeamGrants(teamID), true)
}

func (s *Service) provision(ctx context.Context, span trace.Span, member am.Member, rules am.Rules, grants []am.Grant, skipIfAny bool) error {
	resources := indexResources(rules)
	var transient []error
	for _, g := range grants {
		res, ok := resources[g.ResourceID]
		if !ok {
			continue
		}
		_, err := s.grant(ctx, grantRequest{
			member:    member,
			resource:  res,
			grant:     g,
			action:    am.ActionGrant,
			skipIfAny: skipIfAny,
		})
		if err != nil && dErrors.HasCode(err, dErrors.CodeExternalTransient) {
			transient = append(transient, err)
		}
	}
	if err := errors.Join(transient...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// RevokeAll revokes every active permission of the profile. Absent upstream
// grants count as revoked.
func (s *Service) RevokeAll(ctx context.Context, profileID id.ProfileID) error {
	ctx, span := s.tracer.Start(ctx, "access.revoke_all", trace.WithAttributes(
		attribute.String("profile.id", profileID.String())))
	defer span.End()
	return s.revokeWhere(ctx, span, profileID, am.ActionRevoke, func(am.Permission) bool { return true })
}

// RevokeTeam revokes the permissions provenanced to teamID. A resource the
// profile still reaches another way is revoked logically, without an
// upstream call.
func (s *Service) RevokeTeam(ctx context.Context, profileID id.ProfileID, teamID id.TeamID) error {
	ctx, span := s.tracer.Start(ctx, "access.revoke_team", trace.WithAttributes(
		attribute.String("profile.id", profileID.String()),
		attribute.String("team.id", teamID.String())))
	defer span.End()
	return s.revokeWhere(ctx, span, profileID, am.ActionRevoke, func(p am.Permission) bool {
		return p.Provenance == am.ProvenanceTeam && p.TeamID == teamID
	})
}

func (s *Service) revokeWhere(ctx context.Context, span trace.Span, profileID id.ProfileID, action am.Action, match func(am.Permission) bool) error {
	active, err := s.store.ActiveByProfile(ctx, profileID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load permissions")
	}
	var transient []error
	for _, p := range active {
		if !match(p) {
			continue
		}
		res, err := s.store.FindResource(ctx, p.ResourceID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load resource")
		}
		if _, err := s.revoke(ctx, revokeRequest{perm: p, resource: *res, action: action}); err != nil &&
			dErrors.HasCode(err, dErrors.CodeExternalTransient) {
			transient = append(transient, err)
		}
	}
	if err := errors.Join(transient...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

type grantRequest struct {
	member   am.Member
	resource am.Resource
	grant    am.Grant
	action   am.Action
	// skipIfAny skips when any provenance already covers the resource.
	skipIfAny bool
	// entry is the existing log entry when retrying.
	entry *am.PermissionLog
}

// grant runs one grant attempt. The "already granted" check and the PENDING
// log entry share a transaction; the permission row is written in a second
// transaction that checks again, so concurrent provisioning never records
// the same provenance twice.
func (s *Service) grant(ctx context.Context, req grantRequest) (outcome, error) {
	m, g := req.member, req.grant
	var entry *am.PermissionLog
	result := outcomeCalled

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		active, err := s.activeOn(ctx, m.ProfileID, g.ResourceID)
		if err != nil {
			return err
		}
		if held := sameProvenance(active, g); held != nil || (req.skipIfAny && len(active) > 0) {
			result = outcomeSkipped
			if req.entry != nil {
				req.entry.ApplySuccess(req.entry.ExternalPermissionID, now)
				if held != nil {
					req.entry.PermissionID = held.ID
					req.entry.ExternalPermissionID = held.ExternalPermissionID
				}
				return s.finishLog(ctx, req.entry)
			}
			return nil
		}

		entry, err = s.openLog(ctx, req.entry, am.PermissionLog{
			ProfileID:  m.ProfileID,
			ResourceID: g.ResourceID,
			Email:      m.Email,
			Level:      g.Level,
			Action:     req.action,
			Provenance: g.Provenance,
			TeamID:     g.TeamID,
		})
		if err != nil {
			return err
		}

		shared := covering(active, g.Level)
		if shared == nil {
			return nil
		}
		// The resource is already granted upstream at a sufficient level.
		result = outcomeLogical
		return s.recordGrant(ctx, entry, m, g, shared.ExternalPermissionID)
	})
	if err != nil || result != outcomeCalled {
		return result, err
	}

	externalID, callErr := s.client.Grant(ctx, req.resource.ExternalID, m.Email, g.Level)
	if callErr != nil {
		return result, s.failLog(ctx, entry, callErr, "grant failed")
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		active, err := s.activeOn(ctx, m.ProfileID, g.ResourceID)
		if err != nil {
			return err
		}
		if held := sameProvenance(active, g); held != nil {
			entry.PermissionID = held.ID
			entry.ApplySuccess(externalID, requestcontext.Now(ctx))
			return s.finishLog(ctx, entry)
		}
		return s.recordGrant(ctx, entry, m, g, externalID)
	})
	return result, err
}

func (s *Service) recordGrant(ctx context.Context, entry *am.PermissionLog, m am.Member, g am.Grant, externalID string) error {
	now := requestcontext.Now(ctx)
	active, err := s.activeOn(ctx, m.ProfileID, g.ResourceID)
	if err != nil {
		return err
	}
	// A level upgrade replaces the lower row of the same provenance.
	for _, p := range active {
		if p.Provenance == g.Provenance && p.TeamID == g.TeamID {
			if err := s.store.DeactivatePermission(ctx, p.ID, now); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to replace permission")
			}
		}
	}
	perm := am.Permission{
		ID:                   id.New[id.PermissionID](),
		ProfileID:            m.ProfileID,
		ResourceID:           g.ResourceID,
		Email:                m.Email,
		Level:                g.Level,
		ExternalPermissionID: externalID,
		Provenance:           g.Provenance,
		TeamID:               g.TeamID,
		IsActive:             true,
		GrantedAt:            now,
	}
	if err := s.store.InsertPermission(ctx, &perm); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record permission")
	}
	entry.PermissionID = perm.ID
	entry.ApplySuccess(externalID, now)
	if err := s.finishLog(ctx, entry); err != nil {
		return err
	}
	s.logAudit(ctx, string(audit.ActionAccessGranted),
		"profile_id", m.ProfileID, "resource_id", g.ResourceID, "level", g.Level, "provenance", g.Provenance)
	return s.emit(ctx, audit.ActionAccessGranted, perm, map[string]any{
		"resource_id": g.ResourceID.String(),
		"level":       string(g.Level),
		"provenance":  string(g.Provenance),
		"action":      string(entry.Action),
	})
}

type revokeRequest struct {
	perm     am.Permission
	resource am.Resource
	action   am.Action
	entry    *am.PermissionLog
	// upstreamID overrides the recorded external id when reconcile saw a
	// different one upstream.
	upstreamID string
}

// revoke runs one revoke attempt. When another active permission of the same
// profile still needs the resource, the row is deactivated without calling
// upstream, since the external grant is per email and shared.
func (s *Service) revoke(ctx context.Context, req revokeRequest) (outcome, error) {
	p := req.perm
	var entry *am.PermissionLog
	result := outcomeCalled

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		active, err := s.activeOn(ctx, p.ProfileID, p.ResourceID)
		if err != nil {
			return err
		}
		var others []am.Permission
		stillActive := false
		for _, a := range active {
			if a.ID == p.ID {
				stillActive = true
				continue
			}
			others = append(others, a)
		}
		if !stillActive {
			result = outcomeSkipped
			if req.entry != nil {
				req.entry.ApplySuccess(req.entry.ExternalPermissionID, now)
				return s.finishLog(ctx, req.entry)
			}
			return nil
		}

		entry, err = s.openLog(ctx, req.entry, am.PermissionLog{
			ProfileID:            p.ProfileID,
			ResourceID:           p.ResourceID,
			Email:                p.Email,
			Level:                p.Level,
			Action:               req.action,
			Provenance:           p.Provenance,
			TeamID:               p.TeamID,
			PermissionID:         p.ID,
			ExternalPermissionID: p.ExternalPermissionID,
		})
		if err != nil {
			return err
		}
		if len(others) == 0 {
			return nil
		}
		result = outcomeLogical
		return s.recordRevoke(ctx, entry, p)
	})
	if err != nil || result != outcomeCalled {
		return result, err
	}

	externalID := p.ExternalPermissionID
	if req.upstreamID != "" {
		externalID = req.upstreamID
	}
	callErr := s.client.Revoke(ctx, req.resource.ExternalID, externalID)
	if callErr != nil && !errors.Is(callErr, drive.ErrNotFound) {
		return result, s.failLog(ctx, entry, callErr, "revoke failed")
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.recordRevoke(ctx, entry, p)
	})
	return result, err
}

func (s *Service) recordRevoke(ctx context.Context, entry *am.PermissionLog, p am.Permission) error {
	now := requestcontext.Now(ctx)
	err := s.store.DeactivatePermission(ctx, p.ID, now)
	if err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate permission")
	}
	entry.ApplySuccess(p.ExternalPermissionID, now)
	if err := s.finishLog(ctx, entry); err != nil {
		return err
	}
	s.logAudit(ctx, string(audit.ActionAccessRevoked),
		"profile_id", p.ProfileID, "resource_id", p.ResourceID, "provenance", p.Provenance)
	return s.emit(ctx, audit.ActionAccessRevoked, p, map[string]any{
		"resource_id": p.ResourceID.String(),
		"provenance":  string(p.Provenance),
		"action":      string(entry.Action),
	})
}

// openLog writes the PENDING entry, or moves an existing entry back to
// PENDING and counts the retry.
func (s *Service) openLog(ctx context.Context, existing *am.PermissionLog, fresh am.PermissionLog) (*am.PermissionLog, error) {
	now := requestcontext.Now(ctx)
	if existing != nil {
		existing.Status = am.LogPending
		existing.RetryCount++
		existing.UpdatedAt = now
		if err := s.store.UpdateLog(ctx, existing); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update permission log")
		}
		return existing, nil
	}
	fresh.ID = id.New[id.PermissionLogID]()
	fresh.Status = am.LogPending
	fresh.CreatedAt = now
	fresh.UpdatedAt = now
	if err := s.store.InsertLog(ctx, &fresh); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to write permission log")
	}
	return &fresh, nil
}

func (s *Service) finishLog(ctx context.Context, entry *am.PermissionLog) error {
	if err := s.store.UpdateLog(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update permission log")
	}
	s.countLog(entry)
	return nil
}

// failLog records a failed call and returns it classified. Rate limits stay
// RETRYING; everything else is FAILED.
func (s *Service) failLog(ctx context.Context, entry *am.PermissionLog, callErr error, msg string) error {
	entry.ApplyFailure(callErr, errors.Is(callErr, drive.ErrRateLimited), requestcontext.Now(ctx))
	if err := s.finishLog(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to record access failure", "log_id", entry.ID, "error", err)
	}
	s.logger.WarnContext(ctx, msg,
		"profile_id", entry.ProfileID,
		"resource_id", entry.ResourceID,
		"action", entry.Action,
		"status", entry.Status,
		"error", callErr,
	)
	return classify(callErr, msg)
}

func (s *Service) activeOn(ctx context.Context, profileID id.ProfileID, resourceID id.ResourceID) ([]am.Permission, error) {
	all, err := s.store.ActiveByProfile(ctx, profileID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load permissions")
	}
	var out []am.Permission
	for _, p := range all {
		if p.ResourceID == resourceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func sameProvenance(active []am.Permission, g am.Grant) *am.Permission {
	for i, p := range active {
		if p.Provenance == g.Provenance && p.TeamID == g.TeamID && p.Level.Covers(g.Level) {
			return &active[i]
		}
	}
	return nil
}

func covering(active []am.Permission, level am.Level) *am.Permission {
	for i, p := range active {
		if p.Level.Covers(level) && p.ExternalPermissionID != "" {
			return &active[i]
		}
	}
	return nil
}

func indexResources(r am.Rules) map[id.ResourceID]am.Resource {
	out := make(map[id.ResourceID]am.Resource, len(r.Resources))
	for _, res := range r.Resources {
		if res.IsActive {
			out[res.ID] = res
		}
	}
	return out
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
