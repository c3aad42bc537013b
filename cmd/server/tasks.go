package main

import (
	"context"
	"errors"
	"log/slog"

	"membership/internal/access/drive"
	accessservice "membership/internal/access/service"
	applicationservice "membership/internal/application/service"
	consentservice "membership/internal/consent/service"
	deletionservice "membership/internal/deletion/service"
	exportservice "membership/internal/export/service"
	"membership/internal/jobs"
	membershipservice "membership/internal/membership/service"
	dErrors "membership/pkg/domain-errors"
)

type services struct {
	members      *membershipservice.Service
	applications *applicationservice.Service
	consents     *consentservice.Service
	access       *accessservice.Service
	deletions    *deletionservice.Service
	exports      *exportservice.Service
}

// registerTasks binds every task kind to its service call.
func registerTasks(w *jobs.Worker, svc services, retentionDays int, logger *slog.Logger) {
	access := func(call func(ctx context.Context, p jobs.AccessPayload) error) jobs.Handler {
		return func(ctx context.Context, t jobs.Task) error {
			var p jobs.AccessPayload
			if err := t.Decode(&p); err != nil {
				return jobs.Permanent(err)
			}
			return classify(call(ctx, p))
		}
	}
	w.Handle(jobs.KindProvisionRole, access(func(ctx context.Context, p jobs.AccessPayload) error {
		return svc.access.ProvisionRole(ctx, p.ProfileID)
	}))
	w.Handle(jobs.KindProvisionTeam, access(func(ctx context.Context, p jobs.AccessPayload) error {
		return svc.access.ProvisionTeam(ctx, p.ProfileID, p.TeamID)
	}))
	w.Handle(jobs.KindRevokeAll, access(func(ctx context.Context, p jobs.AccessPayload) error {
		return svc.access.RevokeAll(ctx, p.ProfileID)
	}))
	w.Handle(jobs.KindRevokeTeam, access(func(ctx context.Context, p jobs.AccessPayload) error {
		return svc.access.RevokeTeam(ctx, p.ProfileID, p.TeamID)
	}))
	w.Handle(jobs.KindReconcile, access(func(ctx context.Context, p jobs.AccessPayload) error {
		res, err := svc.access.Reconcile(ctx, p.ResourceID)
		if err == nil {
			logger.InfoContext(ctx, "resource reconciled", "resource_id", res.ResourceID,
				"granted", res.Granted, "revoked", res.Revoked, "untracked", res.Untracked, "failed", res.Failed)
		}
		return err
	}))

	w.Handle(jobs.KindGenerateExport, func(ctx context.Context, t jobs.Task) error {
		var p jobs.ExportPayload
		if err := t.Decode(&p); err != nil {
			return jobs.Permanent(err)
		}
		_, err := svc.exports.Generate(ctx, p.RequestID)
		return classify(err)
	})
	w.Handle(jobs.KindExecuteDelete, func(ctx context.Context, t jobs.Task) error {
		var p jobs.DeletionPayload
		if err := t.Decode(&p); err != nil {
			return jobs.Permanent(err)
		}
		_, err := svc.deletions.Execute(ctx, p.RequestID)
		return classify(err)
	})

	w.Handle(jobs.KindExpirySweep, func(ctx context.Context, _ jobs.Task) error {
		res, err := svc.members.SweepExpiry(ctx)
		if err != nil {
			return classify(err)
		}
		logger.InfoContext(ctx, "expiry sweep done", "reminded", res.Reminded, "expired", res.Expired)
		return nil
	})
	w.Handle(jobs.KindConsentDeadlines, func(ctx context.Context, _ jobs.Task) error {
		res, err := svc.consents.SweepConsentDeadlines(ctx)
		if err != nil {
			return classify(err)
		}
		logger.InfoContext(ctx, "consent deadline sweep done", "reminded", res.Reminded, "restricted", res.Restricted)
		return nil
	})
	w.Handle(jobs.KindReconcileAll, func(ctx context.Context, _ jobs.Task) error {
		results, err := svc.access.ReconcileAll(ctx)
		if err != nil {
			return classify(err)
		}
		logger.InfoContext(ctx, "reconciliation done", "resources", len(results))
		return nil
	})
	w.Handle(jobs.KindRetryFailed, func(ctx context.Context, _ jobs.Task) error {
		res, err := svc.access.RetryFailed(ctx)
		if err != nil {
			return classify(err)
		}
		logger.InfoContext(ctx, "access retry sweep done", "retried", res.Retried, "succeeded", res.Succeeded, "frozen", res.Frozen)
		return nil
	})
	w.Handle(jobs.KindSyncDocuments, func(ctx context.Context, _ jobs.Task) error {
		_, err := svc.consents.SyncDocuments(ctx)
		return classify(err)
	})
	w.Handle(jobs.KindCleanupExports, func(ctx context.Context, _ jobs.Task) error {
		n, err := svc.exports.CleanupExpired(ctx)
		if err != nil {
			return classify(err)
		}
		logger.InfoContext(ctx, "export cleanup done", "expired", n)
		return nil
	})
	w.Handle(jobs.KindAnonymizeRejects, func(ctx context.Context, _ jobs.Task) error {
		_, err := svc.applications.AnonymizeRetainedRejected(ctx, retentionDays)
		return classify(err)
	})
}

// classify tells the worker which failures are worth retrying. Rate limits
// back off longer; rule and state errors never succeed on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, drive.ErrRateLimited) {
		return jobs.Patient(err)
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeValidation, dErrors.CodeInvalidInput,
		dErrors.CodeInvalidTransition, dErrors.CodeForbidden, dErrors.CodeExternalPermanent,
		dErrors.CodeIntegrityViolation:
		return jobs.Permanent(err)
	}
	return err
}
