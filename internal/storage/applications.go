package storage

import (
	"context"
	"slices"
	"time"

	apm "membership/internal/application/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type ApplicationStore struct{ db *DB }

func (s *ApplicationStore) FindByID(ctx context.Context, appID id.ApplicationID) (*apm.Application, error) {
	return query(s.db, ctx, func(t *tables) (*apm.Application, error) {
		a, ok := t.applications[appID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &a, nil
	})
}

// FindOpenByAccount returns the account's non-terminal application.
func (s *ApplicationStore) FindOpenByAccount(ctx context.Context, accountID id.AccountID) (*apm.Application, error) {
	return query(s.db, ctx, func(t *tables) (*apm.Application, error) {
		for _, a := range t.applications {
			if a.AccountID == accountID && !a.Status.IsTerminal() {
				return &a, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

// Save upserts an application. A second open application for the same
// account is a conflict.
func (s *ApplicationStore) Save(ctx context.Context, app *apm.Application) error {
	return s.db.with(ctx, func(t *tables) error {
		if !app.Status.IsTerminal() {
			for _, other := range t.applications {
				if other.ID != app.ID && other.AccountID == app.AccountID && !other.Status.IsTerminal() {
					return sentinel.ErrConflict
				}
			}
		}
		t.applications[app.ID] = *app
		return nil
	})
}

func (s *ApplicationStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]apm.Application, error) {
	return query(s.db, ctx, func(t *tables) ([]apm.Application, error) {
		return s.filter(t, func(a apm.Application) bool { return a.AccountID == accountID }), nil
	})
}

func (s *ApplicationStore) ListByBatch(ctx context.Context, batchID id.BatchID) ([]apm.Application, error) {
	return query(s.db, ctx, func(t *tables) ([]apm.Application, error) {
		return s.filter(t, func(a apm.Application) bool { return a.BatchID == batchID }), nil
	})
}

// RedactRejectedBefore redacts rejected applications reviewed before cutoff
// that are not redacted yet.
func (s *ApplicationStore) RedactRejectedBefore(ctx context.Context, cutoff, now time.Time) (int, error) {
	return s.redact(ctx, now, func(a apm.Application) bool {
		return a.Status == apm.StatusRejected && a.ReviewedAt != nil && a.ReviewedAt.Before(cutoff)
	})
}

// RedactByAccount redacts every application of an account.
func (s *ApplicationStore) RedactByAccount(ctx context.Context, accountID id.AccountID, now time.Time) (int, error) {
	return s.redact(ctx, now, func(a apm.Application) bool { return a.AccountID == accountID })
}

func (s *ApplicationStore) redact(ctx context.Context, now time.Time, match func(apm.Application) bool) (int, error) {
	return query(s.db, ctx, func(t *tables) (int, error) {
		apps := s.filter(t, func(a apm.Application) bool { return a.RedactedAt == nil && match(a) })
		for i := range apps {
			apps[i].ApplyRedaction(now)
			t.applications[apps[i].ID] = apps[i]
		}
		return len(apps), nil
	})
}

func (s *ApplicationStore) FindBatch(ctx context.Context, batchID id.BatchID) (*apm.Batch, error) {
	return query(s.db, ctx, func(t *tables) (*apm.Batch, error) {
		b, ok := t.batches[batchID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &b, nil
	})
}

func (s *ApplicationStore) SaveBatch(ctx context.Context, batch *apm.Batch) error {
	return s.db.with(ctx, func(t *tables) error {
		t.batches[batch.ID] = *batch
		return nil
	})
}

func (s *ApplicationStore) filter(t *tables, keep func(apm.Application) bool) []apm.Application {
	var out []apm.Application
	for _, a := range t.applications {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b apm.Application) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	return out
}
