package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	am "membership/internal/access/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/platform/sentinel"
	"membership/pkg/requestcontext"
)

type wanted struct {
	member am.Member
	grant  am.Grant
}

// Reconcile rebuilds the grants of one resource from first principles:
// active members missing upstream are granted, and upstream grantees that
// are no longer wanted are revoked only when this system's own records show
// it created the grant. Grants it has no record of are counted and left
// alone.
func (s *Service) Reconcile(ctx context.Context, resourceID id.ResourceID) (am.ReconcileResult, error) {
	rules, err := s.store.Rules(ctx)
	if err != nil {
		return am.ReconcileResult{ResourceID: resourceID}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access rules")
	}
	res, ok := indexResources(rules)[resourceID]
	if !ok {
		if _, err := s.store.FindResource(ctx, resourceID); errors.Is(err, sentinel.ErrNotFound) {
			return am.ReconcileResult{ResourceID: resourceID}, dErrors.New(dErrors.CodeNotFound, "resource not found")
		}
		s.logger.InfoContext(ctx, "skipping reconcile of inactive resource", "resource_id", resourceID)
		return am.ReconcileResult{ResourceID: resourceID}, nil
	}
	members, err := s.retainingMembers(ctx)
	if err != nil {
		return am.ReconcileResult{ResourceID: resourceID}, err
	}
	return s.reconcile(ctx, res, rules, members)
}

// ReconcileAll reconciles every active resource, a few at a time. A failing
// resource does not stop the others.
func (s *Service) ReconcileAll(ctx context.Context) ([]am.ReconcileResult, error) {
	rules, err := s.store.Rules(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access rules")
	}
	members, err := s.retainingMembers(ctx)
	if err != nil {
		return nil, err
	}

	var active []am.Resource
	for _, res := range rules.Resources {
		if res.IsActive {
			active = append(active, res)
		}
	}
	results := make([]am.ReconcileResult, len(active))
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, res := range active {
		g.Go(func() error {
			r, err := s.reconcile(ctx, res, rules, members)
			results[i] = r
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logAudit(ctx, string(audit.ActionReconciled), "resources", len(active), "failures", len(errs))
	return results, errors.Join(errs...)
}

func (s *Service) reconcile(ctx context.Context, res am.Resource, rules am.Rules, members []am.Member) (am.ReconcileResult, error) {
	ctx, span := s.tracer.Start(ctx, "access.reconcile", trace.WithAttributes(
		attribute.String("resource.id", res.ID.String()),
		attribute.String("resource.key", res.Key)))
	defer span.End()
	start := time.Now()
	result := am.ReconcileResult{ResourceID: res.ID}

	grantees, err := s.client.ListGrants(ctx, res.ExternalID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, classify(err, "list grants failed")
	}
	actual := make(map[string]am.Grantee, len(grantees))
	for _, g := range grantees {
		actual[normalizeEmail(g.Email)] = g
	}

	desired := map[string]wanted{}
	for _, m := range members {
		if g, ok := m.Desired(rules, retains(m))[res.ID]; ok && m.Email != "" {
			desired[normalizeEmail(m.Email)] = wanted{member: m, grant: g}
		}
	}

	tracked, err := s.store.ActiveByResource(ctx, res.ID)
	if err != nil {
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load permissions")
	}
	trackedByEmail := map[string][]am.Permission{}
	for _, p := range tracked {
		e := normalizeEmail(p.Email)
		trackedByEmail[e] = append(trackedByEmail[e], p)
	}

	var transient []error
	for _, email := range am.SortedEmails(desired) {
		if _, ok := actual[email]; ok {
			continue
		}
		w := desired[email]
		if !grantable(w.member) {
			continue
		}
		// Rows for a grant that disappeared upstream no longer describe reality.
		if err := s.dropStale(ctx, trackedByEmail[email]); err != nil {
			return result, err
		}
		_, err := s.grant(ctx, grantRequest{member: w.member, resource: res, grant: w.grant, action: am.ActionReconcileGrant})
		switch {
		case err == nil:
			result.Granted++
		default:
			result.Failed++
			if dErrors.HasCode(err, dErrors.CodeExternalTransient) {
				transient = append(transient, err)
			}
		}
	}

	for _, email := range am.SortedEmails(actual) {
		if _, ok := desired[email]; ok {
			continue
		}
		rows := trackedByEmail[email]
		if len(rows) == 0 {
			result.Untracked++
			continue
		}
		failed := false
		for _, p := range rows {
			if _, err := s.revoke(ctx, revokeRequest{
				perm:       p,
				resource:   res,
				action:     am.ActionReconcileRevoke,
				upstreamID: actual[email].PermissionID,
			}); err != nil {
				failed = true
				if dErrors.HasCode(err, dErrors.CodeExternalTransient) {
					transient = append(transient, err)
				}
			}
		}
		if failed {
			result.Failed++
		} else {
			result.Revoked++
		}
	}

	if s.metrics != nil {
		s.metrics.AddUntracked(result.Untracked)
		s.metrics.ObserveReconcile(start)
	}
	s.logger.InfoContext(ctx, "resource reconciled",
		"resource_id", res.ID,
		"granted", result.Granted,
		"revoked", result.Revoked,
		"untracked", result.Untracked,
		"failed", result.Failed,
	)
	if err := errors.Join(transient...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	return result, nil
}

func (s *Service) dropStale(ctx context.Context, rows []am.Permission) error {
	if len(rows) == 0 {
		return nil
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		for _, p := range rows {
			err := s.store.DeactivatePermission(ctx, p.ID, now)
			if err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to drop stale permission")
			}
			s.logger.WarnContext(ctx, "permission missing upstream", "permission_id", p.ID, "profile_id", p.ProfileID)
		}
		return nil
	})
}

func (s *Service) retainingMembers(ctx context.Context) ([]am.Member, error) {
	ids, err := s.members.ProfilesWithRole(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list profiles")
	}
	out := make([]am.Member, 0, len(ids))
	for _, pid := range ids {
		m, err := s.member(ctx, pid)
		if err != nil {
			return nil, err
		}
		if retains(m) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b am.Member) int { return strings.Compare(a.Email, b.Email) })
	return out, nil
}
