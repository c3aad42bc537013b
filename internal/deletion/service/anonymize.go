package service

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"

	id "membership/pkg/domain"
)

const (
	pseudonymLength      = 12
	anonymizedCountry    = "XX"
	anonymizedNotePrefix = "Anonymized per erasure request"
)

// Anonymizer derives the deterministic placeholders written over personal
// data. The same profile and email always map to the same pseudonym under a
// given secret.
type Anonymizer struct {
	key    []byte
	domain string
}

func NewAnonymizer(secret, emailDomain string) (*Anonymizer, error) {
	if secret == "" {
		return nil, errors.New("anonymization secret is required")
	}
	if emailDomain == "" {
		return nil, errors.New("anonymized email domain is required")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Anonymizer{key: key, domain: emailDomain}, nil
}

// Pseudonym is a short keyed hash of the profile id and original email.
func (a *Anonymizer) Pseudonym(profileID id.ProfileID, email string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		// key length is bounded in NewAnonymizer
		panic(err)
	}
	h.Write([]byte(profileID.String() + "|" + strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))[:pseudonymLength]
}

func (a *Anonymizer) Email(pseudonym string) string {
	return "deleted_" + pseudonym + "@" + a.domain
}

func (a *Anonymizer) Name(pseudonym string) string {
	return "Deleted User #" + pseudonym
}
