package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MEMBERSHIP_ADDR", "")
	t.Setenv("GDPR_EXPORT_EXPIRY_DAYS", "")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 7*24*time.Hour, cfg.ExportExpiry)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresSecretsOutsideDev(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ANONYMIZATION_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DRIVE_ACCESS_TOKEN", "")

	err := FromEnv().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANONYMIZATION_SECRET")
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "DRIVE_ACCESS_TOKEN")
}

func TestParseAccessRules(t *testing.T) {
	raw := []byte(`
resources:
  - key: shared
    external_id: folder-1
    name: Shared drive
    type: shared_drive
role_rules:
  - role: asociado
    resource: shared
    level: writer
team_rules:
  - team: Design
    resource: shared
    level: reader
`)
	rules, err := ParseAccessRules(raw)
	require.NoError(t, err)
	assert.Len(t, rules.Resources, 1)
	assert.Equal(t, "writer", rules.RoleRules[0].Level)
	assert.Equal(t, "Design", rules.TeamRules[0].Team)

	_, err = ParseAccessRules([]byte("role_rules:\n  - role: asociado\n    resource: missing\n    level: reader\n"))
	require.Error(t, err)
}
