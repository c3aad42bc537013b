package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cm "membership/internal/consent/models"
	mm "membership/internal/membership/models"
)

func writeDoc(t *testing.T, root, slug, meta string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, slug)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.yaml"), []byte(meta), 0o600))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
}

func TestDirDocuments(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "privacy", `
title: Privacy policy
type: privacy_policy
required_for_activation: true
required_for_roles: [colaborador, asociado]
display_order: 1
version: "2.0"
effective_date: "2026-02-01"
requires_re_consent: true
re_consent_deadline: "2026-03-01"
commit: abc123
`, map[string]string{"content.md": "We keep your data safe.", "content.es.md": "Cuidamos tus datos."})
	writeDoc(t, root, "conduct", "title: Code of conduct\nversion: \"1\"\n", map[string]string{"content.md": "Be kind."})
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	docs, err := NewDir(root).Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	conduct := docs[0]
	assert.Equal(t, "conduct", conduct.Slug)
	assert.Equal(t, cm.DocumentOther, conduct.Type)
	assert.Nil(t, conduct.Version.Translations)
	assert.True(t, conduct.Version.EffectiveDate.IsZero())

	privacy := docs[1]
	assert.Equal(t, cm.DocumentPrivacyPolicy, privacy.Type)
	assert.Equal(t, []mm.Role{"colaborador", "asociado"}, privacy.RequiredForRoles)
	assert.Equal(t, "2.0", privacy.Version.VersionNumber)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), privacy.Version.EffectiveDate)
	require.NotNil(t, privacy.Version.ReConsentDeadline)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *privacy.Version.ReConsentDeadline)
	assert.Equal(t, map[string]string{"es": "Cuidamos tus datos."}, privacy.Version.Translations)
	assert.Equal(t, "privacy/content.md", privacy.Version.GitFilePath)
	assert.Equal(t, "abc123", privacy.Version.GitCommitSHA)
}

func TestDirDocumentsErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := NewDir(filepath.Join(t.TempDir(), "absent")).Documents(context.Background())
		assert.Error(t, err)
	})

	t.Run("missing version", func(t *testing.T) {
		root := t.TempDir()
		writeDoc(t, root, "conduct", "title: Code of conduct\n", map[string]string{"content.md": "Be kind."})
		_, err := NewDir(root).Documents(context.Background())
		assert.ErrorContains(t, err, "title and version are required")
	})

	t.Run("bad deadline", func(t *testing.T) {
		root := t.TempDir()
		writeDoc(t, root, "conduct", "title: C\nversion: \"1\"\nre_consent_deadline: soon\n", map[string]string{"content.md": "Be kind."})
		_, err := NewDir(root).Documents(context.Background())
		assert.ErrorContains(t, err, "re_consent_deadline")
	})
}
