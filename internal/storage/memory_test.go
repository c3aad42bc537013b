package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	"membership/pkg/platform/outbox"
	"membership/pkg/platform/sentinel"
)

var now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestRunInTx_RollsBackEveryTable(t *testing.T) {
	s := New()
	ctx := context.Background()
	accountID := id.New[id.AccountID]()
	profile := &mm.Profile{ID: id.New[id.ProfileID](), AccountID: accountID, CreatedAt: now}
	boom := errors.New("boom")

	err := s.DB.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Profiles.Save(ctx, profile))
		require.NoError(t, s.Outbox.Append(ctx, outbox.Message{Topic: "t", IdempotencyKey: "k"}))
		_, err := s.Profiles.FindByID(ctx, profile.ID)
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Profiles.FindByID(ctx, profile.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	pending, err := s.Outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunInTx_CommitsAndJoinsNested(t *testing.T) {
	s := New()
	ctx := context.Background()
	profile := &mm.Profile{ID: id.New[id.ProfileID](), AccountID: id.New[id.AccountID]()}

	err := s.DB.RunInTx(ctx, func(ctx context.Context) error {
		return s.DB.RunInTx(ctx, func(ctx context.Context) error {
			return s.Profiles.Save(ctx, profile)
		})
	})
	require.NoError(t, err)

	got, err := s.Profiles.FindByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, profile.AccountID, got.AccountID)
}

func TestRunInTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.DB.RunInTx(ctx, func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestConsentStore_ActiveUniquenessAndSupersede(t *testing.T) {
	s := New()
	ctx := context.Background()
	docID := id.New[id.DocumentID]()
	v1, v2 := id.New[id.VersionID](), id.New[id.VersionID]()
	p1, p2 := id.New[id.ProfileID](), id.New[id.ProfileID]()

	first := &cm.ConsentRecord{ID: id.New[id.ConsentID](), ProfileID: p1, DocumentID: docID, VersionID: v1, IsActive: true, ConsentedAt: now}
	require.NoError(t, s.Consents.Insert(ctx, first))
	dup := *first
	dup.ID = id.New[id.ConsentID]()
	assert.ErrorIs(t, s.Consents.Insert(ctx, &dup), sentinel.ErrConflict)
	assert.ErrorIs(t, s.Consents.Insert(ctx, first), sentinel.ErrImmutable)

	require.NoError(t, s.Consents.Insert(ctx, &cm.ConsentRecord{ID: id.New[id.ConsentID](), ProfileID: p2, DocumentID: docID, VersionID: v1, IsActive: true, ConsentedAt: now}))
	require.NoError(t, s.Consents.Insert(ctx, &cm.ConsentRecord{ID: id.New[id.ConsentID](), ProfileID: p2, DocumentID: docID, VersionID: v2, IsActive: true, ConsentedAt: now}))

	affected, err := s.Consents.Supersede(ctx, docID, v2, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.ProfileID{p1, p2}, affected)

	active, err := s.Consents.ListActiveByProfile(ctx, p2)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, v2, active[0].VersionID)

	err = s.Consents.DeactivateIfActive(ctx, first.ID, cm.ReasonRevoked, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestRoleAssignmentStore_DeactivateExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	profileID := id.New[id.ProfileID]()

	ended, err := mm.NewRoleAssignment(profileID, mm.RoleColaborador, today.AddDate(-2, 0, -1), id.AccountID{}, "", now)
	require.NoError(t, err)
	endsToday, err := mm.NewRoleAssignment(profileID, mm.RoleAsociado, today.AddDate(-2, 0, 0), id.AccountID{}, "", now)
	require.NoError(t, err)
	require.NoError(t, s.RoleAssignments.Save(ctx, ended))
	require.NoError(t, s.RoleAssignments.Save(ctx, endsToday))

	flipped, err := s.RoleAssignments.DeactivateExpired(ctx, today, now)
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, ended.ID, flipped[0].ID)

	again, err := s.RoleAssignments.DeactivateExpired(ctx, today, now)
	require.NoError(t, err)
	assert.Empty(t, again, "the sweep is idempotent")

	all, err := s.RoleAssignments.ListByProfile(ctx, profileID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "rows are never deleted")
}

func TestOutboxStore_DeduplicatesAndPublishes(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Outbox.Append(ctx, outbox.Message{Topic: "n", IdempotencyKey: "a"}))
	require.NoError(t, s.Outbox.Append(ctx, outbox.Message{Topic: "n", IdempotencyKey: "a"}))
	require.NoError(t, s.Outbox.Append(ctx, outbox.Message{Topic: "n", IdempotencyKey: "b"}))

	pending, err := s.Outbox.ListUnpublished(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.Outbox.MarkPublished(ctx, []int64{pending[0].ID}, now))
	pending, err = s.Outbox.ListUnpublished(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].IdempotencyKey)
}
