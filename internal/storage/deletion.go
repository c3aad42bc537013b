package storage

import (
	"context"
	"slices"
	"time"

	dm "membership/internal/deletion/models"
	em "membership/internal/export/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/sentinel"
)

type DeletionStore struct{ db *DB }

func (s *DeletionStore) FindByID(ctx context.Context, reqID id.DeletionRequestID) (*dm.Request, error) {
	return query(s.db, ctx, func(t *tables) (*dm.Request, error) {
		r, ok := t.deletions[reqID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &r, nil
	})
}

func (s *DeletionStore) FindByToken(ctx context.Context, token string) (*dm.Request, error) {
	return query(s.db, ctx, func(t *tables) (*dm.Request, error) {
		for _, r := range t.deletions {
			if token != "" && r.ConfirmationToken == token {
				return &r, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

// FindOpenByProfile returns the profile's non-terminal request.
func (s *DeletionStore) FindOpenByProfile(ctx context.Context, profileID id.ProfileID) (*dm.Request, error) {
	return query(s.db, ctx, func(t *tables) (*dm.Request, error) {
		for _, r := range t.deletions {
			if r.ProfileID == profileID && !r.Status.IsTerminal() {
				return &r, nil
			}
		}
		return nil, sentinel.ErrNotFound
	})
}

// Save upserts a request. A second open request for the same profile is a conflict.
func (s *DeletionStore) Save(ctx context.Context, req *dm.Request) error {
	return s.db.with(ctx, func(t *tables) error {
		if !req.Status.IsTerminal() {
			for _, other := range t.deletions {
				if other.ID != req.ID && other.ProfileID == req.ProfileID && !other.Status.IsTerminal() {
					return sentinel.ErrConflict
				}
			}
		}
		t.deletions[req.ID] = *req
		return nil
	})
}

func (s *DeletionStore) ListByStatus(ctx context.Context, status dm.Status) ([]dm.Request, error) {
	return query(s.db, ctx, func(t *tables) ([]dm.Request, error) {
		var out []dm.Request
		for _, r := range t.deletions {
			if r.Status == status {
				out = append(out, r)
			}
		}
		slices.SortFunc(out, func(a, b dm.Request) int { return a.RequestedAt.Compare(b.RequestedAt) })
		return out, nil
	})
}

type ExportStore struct{ db *DB }

func (s *ExportStore) FindByID(ctx context.Context, reqID id.ExportRequestID) (*em.Request, error) {
	return query(s.db, ctx, func(t *tables) (*em.Request, error) {
		r, ok := t.exports[reqID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		return &r, nil
	})
}

func (s *ExportStore) Save(ctx context.Context, req *em.Request) error {
	return s.db.with(ctx, func(t *tables) error {
		t.exports[req.ID] = *req
		return nil
	})
}

func (s *ExportStore) ListByProfile(ctx context.Context, profileID id.ProfileID) ([]em.Request, error) {
	return s.list(ctx, func(r em.Request) bool { return r.ProfileID == profileID })
}

// ListExpired returns completed exports whose download window closed.
func (s *ExportStore) ListExpired(ctx context.Context, now time.Time) ([]em.Request, error) {
	return s.list(ctx, func(r em.Request) bool { return r.IsExpired(now) })
}

func (s *ExportStore) list(ctx context.Context, keep func(em.Request) bool) ([]em.Request, error) {
	return query(s.db, ctx, func(t *tables) ([]em.Request, error) {
		var out []em.Request
		for _, r := range t.exports {
			if keep(r) {
				out = append(out, r)
			}
		}
		slices.SortFunc(out, func(a, b em.Request) int { return a.RequestedAt.Compare(b.RequestedAt) })
		return out, nil
	})
}
