package models

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	mm "membership/internal/membership/models"
	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

// DocumentType classifies legal documents.
type DocumentType string

const (
	DocumentPrivacyPolicy       DocumentType = "privacy_policy"
	DocumentGDPRDataProcessing  DocumentType = "gdpr_data_processing"
	DocumentConfidentiality     DocumentType = "confidentiality"
	DocumentCodeOfConduct       DocumentType = "code_of_conduct"
	DocumentInternalRegulations DocumentType = "internal_regulations"
	DocumentOther               DocumentType = "other"
)

// DeactivationReason records why a consent record stopped being active.
type DeactivationReason string

const (
	ReasonSuperseded DeactivationReason = "superseded"
	ReasonRevoked    DeactivationReason = "revoked"
	ReasonAnonymized DeactivationReason = "anonymized"
)

// LegalDocument is a document type members may have to accept.
type LegalDocument struct {
	ID                      id.DocumentID
	Slug                    string
	Title                   string
	Type                    DocumentType
	IsRequiredForActivation bool
	// RequiredForRoles empty means required for every role.
	RequiredForRoles []mm.Role
	DisplayOrder     int
	IsActive         bool
	CreatedAt        time.Time
}

// RequiredFor reports whether a holder of role must accept this document.
func (d *LegalDocument) RequiredFor(role mm.Role) bool {
	if !d.IsActive || !d.IsRequiredForActivation {
		return false
	}
	return len(d.RequiredForRoles) == 0 || slices.Contains(d.RequiredForRoles, role)
}

// DocumentVersion is one revision of a legal document. At most one version
// per document is current.
type DocumentVersion struct {
	ID                id.VersionID
	DocumentID        id.DocumentID
	VersionNumber     string
	EffectiveDate     time.Time
	Content           string
	ContentHash       string
	GitCommitSHA      string
	GitFilePath       string
	SyncedAt          *time.Time
	Translations      map[string]string
	Changelog         string
	IsCurrent         bool
	RequiresReConsent bool
	ReConsentDeadline *time.Time
	CreatedAt         time.Time
}

// HashContent is the integrity hash stored alongside version content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the content hash.
func (v *DocumentVersion) Verify() error {
	if HashContent(v.Content) != v.ContentHash {
		return dErrors.New(dErrors.CodeIntegrityViolation, "content hash mismatch for version "+v.VersionNumber)
	}
	return nil
}

// TextFor returns the text shown to a reader in lang, falling back to the
// canonical content.
func (v *DocumentVersion) TextFor(lang string) string {
	if t, ok := v.Translations[lang]; ok && t != "" {
		return t
	}
	return v.Content
}

// ReConsentOverdue reports whether the re-consent deadline passed before day.
func (v *DocumentVersion) ReConsentOverdue(day time.Time) bool {
	return v.RequiresReConsent && v.ReConsentDeadline != nil && v.ReConsentDeadline.Before(day)
}

// ViewingContext is captured when a member accepts a document.
type ViewingContext struct {
	IPAddress string
	UserAgent string
	Language  string
}

// ConsentRecord is append-only proof of acceptance. Only IsActive may change,
// and only from true to false.
type ConsentRecord struct {
	ID                 id.ConsentID
	ProfileID          id.ProfileID
	DocumentID         id.DocumentID
	VersionID          id.VersionID
	ConsentedAt        time.Time
	IPAddress          string
	UserAgent          string
	Language           string
	ConsentText        string
	IsActive           bool
	DeactivatedAt      *time.Time
	DeactivationReason DeactivationReason
}

// CanDeactivate fails when the record was already flipped.
func (c *ConsentRecord) CanDeactivate() error {
	if !c.IsActive {
		return dErrors.New(dErrors.CodeAlreadyRevoked, "consent record is not active")
	}
	return nil
}

// ApplyDeactivation is the single permitted mutation of a consent record.
func (c *ConsentRecord) ApplyDeactivation(now time.Time, reason DeactivationReason) error {
	if err := c.CanDeactivate(); err != nil {
		return err
	}
	c.IsActive = false
	c.DeactivatedAt = &now
	c.DeactivationReason = reason
	return nil
}

// ConsentRevocation is the append-only record of an explicit revocation.
type ConsentRevocation struct {
	ID        id.RevocationID
	ConsentID id.ConsentID
	Reason    string
	RevokedBy id.AccountID
	RevokedAt time.Time
}

// Requirement pairs a required document with its current version.
type Requirement struct {
	Document LegalDocument
	Current  *DocumentVersion
}

// PendingDocument is a requirement the profile has not accepted yet.
type PendingDocument struct {
	Requirement
	Overdue bool
}

// SyncSummary reports a document sync run.
type SyncSummary struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors"`
}
