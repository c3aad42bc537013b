package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	am "membership/internal/access/models"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/requestcontext"
)

// RetryResult summarizes one retry sweep.
type RetryResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Frozen    int `json:"frozen"`
}

// RetryFailed re-attempts FAILED and RETRYING log entries created within
// the retry window that have not used up their attempts. An entry whose
// grant is no longer wanted is frozen in FAILED instead of retried.
func (s *Service) RetryFailed(ctx context.Context) (RetryResult, error) {
	now := requestcontext.Now(ctx)
	entries, err := s.store.ListRetryable(ctx, now.Add(-am.RetryWindow), am.MaxRetries)
	if err != nil {
		return RetryResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list retryable operations")
	}
	ctx, span := s.tracer.Start(ctx, "access.retry_failed", trace.WithAttributes(
		attribute.Int("entries", len(entries))))
	defer span.End()

	rules, err := s.store.Rules(ctx)
	if err != nil {
		return RetryResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access rules")
	}
	resources := indexResources(rules)

	var result RetryResult
	for i := range entries {
		entry := &entries[i]
		if !entry.IsRetryable(now) {
			continue
		}
		res, ok := resources[entry.ResourceID]
		if !ok {
			if err := s.freeze(ctx, entry, "resource no longer active"); err != nil {
				return result, err
			}
			result.Frozen++
			continue
		}

		var opErr error
		if entry.Action.IsGrant() {
			member, err := s.member(ctx, entry.ProfileID)
			if err != nil {
				return result, err
			}
			if !grantable(member) || !member.Wants(rules, entry.ResourceID, entry.Provenance, entry.TeamID) {
				if err := s.freeze(ctx, entry, "grant no longer wanted"); err != nil {
					return result, err
				}
				result.Frozen++
				continue
			}
			_, opErr = s.grant(ctx, grantRequest{
				member:   member,
				resource: res,
				grant: am.Grant{
					ResourceID: entry.ResourceID,
					Level:      entry.Level,
					Provenance: entry.Provenance,
					TeamID:     entry.TeamID,
				},
				action: entry.Action,
				entry:  entry,
			})
		} else {
			perm, err := s.findActive(ctx, entry)
			if err != nil {
				return result, err
			}
			if perm == nil {
				entry.ApplySuccess(entry.ExternalPermissionID, now)
				if err := s.finishLog(ctx, entry); err != nil {
					return result, err
				}
				result.Retried++
				result.Succeeded++
				continue
			}
			_, opErr = s.revoke(ctx, revokeRequest{perm: *perm, resource: res, action: entry.Action, entry: entry})
		}
		result.Retried++
		if opErr == nil {
			result.Succeeded++
		}
	}

	s.logger.InfoContext(ctx, "access retry sweep finished",
		"retried", result.Retried, "succeeded", result.Succeeded, "frozen", result.Frozen)
	return result, nil
}

func (s *Service) findActive(ctx context.Context, entry *am.PermissionLog) (*am.Permission, error) {
	active, err := s.activeOn(ctx, entry.ProfileID, entry.ResourceID)
	if err != nil {
		return nil, err
	}
	for i, p := range active {
		if p.ID == entry.PermissionID {
			return &active[i], nil
		}
	}
	return nil, nil
}

// freeze parks an entry in FAILED with its attempts used up.
func (s *Service) freeze(ctx context.Context, entry *am.PermissionLog, reason string) error {
	entry.Status = am.LogFailed
	entry.ErrorMessage = reason
	entry.RetryCount = am.MaxRetries
	entry.UpdatedAt = requestcontext.Now(ctx)
	return s.finishLog(ctx, entry)
}
