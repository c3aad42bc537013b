package service

import (
	"context"
	"strings"
	"time"

	apm "membership/internal/application/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
	"membership/pkg/platform/audit"
	"membership/pkg/requestcontext"
)

// CreateBatch opens a review batch. An empty name gets the monthly default.
func (s *Service) CreateBatch(ctx context.Context, name string) (*apm.Batch, error) {
	now := requestcontext.Now(ctx)
	if name = strings.TrimSpace(name); name == "" {
		name = apm.DefaultBatchName(now)
	}
	batch := &apm.Batch{
		ID:        id.New[id.BatchID](),
		Name:      name,
		Status:    apm.BatchOpen,
		CreatedBy: requestcontext.ActorID(ctx),
		CreatedAt: now,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.applications.SaveBatch(ctx, batch); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save batch")
		}
		return s.emitBatch(ctx, audit.ActionBatchCreated, batch, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.ActionBatchCreated), "batch_id", batch.ID, "name", batch.Name)
	return batch, nil
}

// AddToBatch attaches applications to a batch. Submitted applications are
// moved under review; the batch itself goes in_review.
func (s *Service) AddToBatch(ctx context.Context, batchID id.BatchID, appIDs []id.ApplicationID) (*apm.Batch, error) {
	var batch *apm.Batch
	started := 0
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.applications.FindBatch(ctx, batchID)
		if err != nil {
			return wrapLoad(err, "batch")
		}
		if err := batch.CanAdd(); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		for _, appID := range appIDs {
			app, err := s.applications.FindByID(ctx, appID)
			if err != nil {
				return wrapLoad(err, "application")
			}
			if app.Status.IsTerminal() {
				return dErrors.New(dErrors.CodeInvalidTransition, "application "+appID.String()+" is already decided")
			}
			app.BatchID = batch.ID
			app.UpdatedAt = now
			if app.Status == apm.StatusSubmitted {
				if err := app.Apply(apm.EventStartReview, requestcontext.ActorID(ctx), "", now); err != nil {
					return err
				}
				if err := s.emit(ctx, audit.ActionApplicationReview, app, nil); err != nil {
					return err
				}
				started++
			}
			if err := s.applications.Save(ctx, app); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save application")
			}
		}
		if len(appIDs) > 0 && batch.Status == apm.BatchOpen {
			batch.Status = apm.BatchInReview
			if err := s.applications.SaveBatch(ctx, batch); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save batch")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for range started {
		s.transitions.Inc("application", string(apm.EventStartReview))
	}
	s.logger.InfoContext(ctx, "applications added to batch", "batch_id", batchID, "added", len(appIDs), "review_started", started)
	return batch, nil
}

// CloseBatch closes a batch to further additions.
func (s *Service) CloseBatch(ctx context.Context, batchID id.BatchID) (*apm.Batch, error) {
	var batch *apm.Batch
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.applications.FindBatch(ctx, batchID)
		if err != nil {
			return wrapLoad(err, "batch")
		}
		if err := batch.ApplyClose(requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.applications.SaveBatch(ctx, batch); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save batch")
		}
		apps, err := s.applications.ListByBatch(ctx, batchID)
		if err != nil {
			return wrapLoad(err, "batch applications")
		}
		return s.emitBatch(ctx, audit.ActionBatchClosed, batch, map[string]any{"applications": len(apps)})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(audit.ActionBatchClosed), "batch_id", batchID)
	return batch, nil
}

// BatchApplications lists the applications attached to a batch.
func (s *Service) BatchApplications(ctx context.Context, batchID id.BatchID) ([]apm.Application, error) {
	if _, err := s.applications.FindBatch(ctx, batchID); err != nil {
		return nil, wrapLoad(err, "batch")
	}
	apps, err := s.applications.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, wrapLoad(err, "batch applications")
	}
	return apps, nil
}

// AnonymizeRetainedRejected redacts rejected applications reviewed more than
// retentionDays ago. Rerunning finds nothing new.
func (s *Service) AnonymizeRetainedRejected(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "retention must not be negative")
	}
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	var n int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.applications.RedactRejectedBefore(ctx, cutoff, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to redact applications")
		}
		if n == 0 || s.auditPublisher == nil {
			return nil
		}
		return s.auditPublisher.Emit(ctx, audit.Entry{
			Action:     audit.ActionApplicationsRedacted,
			EntityKind: audit.EntityApplication,
			Extra:      map[string]any{"count": n, "retention_days": retentionDays},
		})
	})
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, string(audit.ActionApplicationsRedacted), "count", n, "retention_days", retentionDays)
	return n, nil
}

func (s *Service) emitBatch(ctx context.Context, action audit.Action, b *apm.Batch, extra map[string]any) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Entry{
		Action:     action,
		EntityKind: audit.EntityBatch,
		EntityID:   b.ID.String(),
		Extra:      extra,
	})
}
