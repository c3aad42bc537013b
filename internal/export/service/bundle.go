package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"

	em "membership/internal/export/models"
)

const readme = `Personal data export

Generated: %s

This archive contains every structured record the association holds about
you, one JSON file per kind of record:

  account.json              account details
  profile.json              membership profile
  role_assignments.json     role history
  consent_records.json      legal document acceptances
  consent_revocations.json  withdrawn acceptances
  team_memberships.json     team history
  tags.json                 profile tags
  applications.json         membership applications
  access_logs.json          shared resource access operations
  audit_logs.json           audit trail entries about you
  change_history.json       changes to your profile and roles

The download link expires on %s.
`

// packBundle writes the bundle as a deflated zip and returns it with its
// sha256 checksum.
func packBundle(b *em.Bundle, expiresAt time.Time) ([]byte, string, error) {
	files := []struct {
		name string
		v    any
	}{
		{"account.json", b.Account},
		{"profile.json", b.Profile},
		{"role_assignments.json", b.RoleAssignments},
		{"consent_records.json", b.Consents},
		{"consent_revocations.json", b.Revocations},
		{"team_memberships.json", b.Teams},
		{"tags.json", b.Tags},
		{"applications.json", b.Applications},
		{"access_logs.json", b.AccessLogs},
		{"audit_logs.json", b.AuditLog},
		{"change_history.json", b.Changes},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal %s: %w", f.name, err)
		}
		if err := writeEntry(zw, f.name, b.GeneratedAt, data); err != nil {
			return nil, "", err
		}
	}
	text := fmt.Sprintf(readme, b.GeneratedAt.Format(time.RFC3339), expiresAt.Format(time.DateOnly))
	if err := writeEntry(zw, "README.txt", b.GeneratedAt, []byte(text)); err != nil {
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("close archive: %w", err)
	}

	return buf.Bytes(), checksum(buf.Bytes()), nil
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
