package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
)

func TestLevelRank(t *testing.T) {
	order := []Level{LevelReader, LevelCommenter, LevelWriter, LevelFileOrganizer, LevelOrganizer}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
	assert.True(t, LevelWriter.Covers(LevelReader))
	assert.False(t, LevelReader.Covers(LevelWriter))

	_, err := ParseLevel("owner")
	require.Error(t, err)
}

func TestDesired_HighestPrivilegeWins(t *testing.T) {
	shared := Resource{ID: id.New[id.ResourceID](), IsActive: true}
	archive := Resource{ID: id.New[id.ResourceID](), IsActive: false}
	design := id.New[id.TeamID]()

	rules := Rules{
		Resources: []Resource{shared, archive},
		RoleRules: []RoleRule{
			{Role: mm.RoleAsociado, ResourceID: shared.ID, Level: LevelReader, IsActive: true},
			{Role: mm.RoleAsociado, ResourceID: archive.ID, Level: LevelWriter, IsActive: true},
		},
		TeamRules: []TeamRule{
			{TeamID: design, ResourceID: shared.ID, Level: LevelWriter, IsActive: true},
		},
	}

	got := rules.Desired(mm.RoleAsociado, []id.TeamID{design})
	require.Len(t, got, 1, "inactive resources are never desired")
	assert.Equal(t, LevelWriter, got[shared.ID].Level)
	assert.Equal(t, ProvenanceTeam, got[shared.ID].Provenance)

	rules.RoleRules[0].Level = LevelWriter
	got = rules.Desired(mm.RoleAsociado, []id.TeamID{design})
	assert.Equal(t, ProvenanceRole, got[shared.ID].Provenance, "equal levels prefer the role rule")

	assert.Empty(t, rules.Desired(mm.RoleColaborador, nil))
}

func TestPermissionLogRetryability(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := PermissionLog{Status: LogPending, CreatedAt: now.Add(-time.Hour)}
	assert.False(t, entry.IsRetryable(now))

	entry.ApplyFailure(errors.New("429"), true, now)
	assert.Equal(t, LogRetrying, entry.Status)
	assert.True(t, entry.IsRetryable(now))

	entry.RetryCount = MaxRetries
	assert.False(t, entry.IsRetryable(now))

	entry.RetryCount = 0
	assert.False(t, entry.IsRetryable(now.Add(RetryWindow)), "outside the recency window")
}
