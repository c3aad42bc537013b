package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "membership/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
//
// Parsing is the trust boundary for every identifier taken from a request.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseProfileID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseProfileID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseProfileID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseProfileID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, ProfileID(validUUID), id)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety.
// This is a compile-time check - if this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	profileID := ProfileID(uuid.New())
	accountID := AccountID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ ProfileID = accountID   // compile error
	// var _ AccountID = profileID   // compile error

	assert.NotEqual(t, uuid.UUID(profileID), uuid.UUID(accountID))
}

// TestParseID_SecurityInvariants checks hostile input at API entry points.
func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Attack vectors
		{"SQL injection attempt", "'; DROP TABLE users;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400\u200B-e29b-41d4-a716-446655440000", true},

		// Edge cases
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		// Note: uuid.Parse trims whitespace, so " uuid " is accepted as valid

		// Valid
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfileID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestTextRoundTrip keeps JSON encoding of typed IDs in canonical UUID form.
func TestTextRoundTrip(t *testing.T) {
	original := ProfileID(uuid.New())

	text, err := original.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, uuid.UUID(original).String(), string(text))

	var decoded ProfileID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, original, decoded)
}

// TestNullableColumns covers the zero-ID-as-NULL mapping used by optional references.
func TestNullableColumns(t *testing.T) {
	var batch BatchID
	v, err := batch.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, batch.Scan(nil))
	assert.True(t, batch.IsNil())

	raw := uuid.New().String()
	require.NoError(t, batch.Scan(raw))
	assert.Equal(t, raw, batch.String())
}

// TestAllIDTypes_ConsistentBehavior ensures all ID types have identical parsing behavior.
func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()
	invalidInputs := []string{"", "invalid", uuid.Nil.String()}

	// All types should accept valid UUID
	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errProfile := ParseProfileID(validUUID)
		_, errAccount := ParseAccountID(validUUID)
		_, errApplication := ParseApplicationID(validUUID)
		_, errDeletion := ParseDeletionRequestID(validUUID)
		_, errConsent := ParseConsentID(validUUID)

		require.NoError(t, errProfile)
		require.NoError(t, errAccount)
		require.NoError(t, errApplication)
		require.NoError(t, errDeletion)
		require.NoError(t, errConsent)
	})

	// All types should reject invalid inputs identically
	for _, input := range invalidInputs {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errProfile := ParseProfileID(input)
			_, errAccount := ParseAccountID(input)
			_, errApplication := ParseApplicationID(input)
			_, errDeletion := ParseDeletionRequestID(input)
			_, errConsent := ParseConsentID(input)

			require.Error(t, errProfile)
			require.Error(t, errAccount)
			require.Error(t, errApplication)
			require.Error(t, errDeletion)
			require.Error(t, errConsent)
		})
	}
}
