// Package notify defines the outbound notification contract. Delivery is
// at-least-once; every event carries an idempotency key the downstream
// sender deduplicates on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "membership/pkg/domain"
)

// Kind is the notification event kind.
type Kind string

const (
	KindApplicationSubmitted Kind = "application_submitted"
	KindApplicationApproved  Kind = "application_approved"
	KindApplicationRejected  Kind = "application_rejected"
	KindConsentRequired      Kind = "consent_required"
	KindConsentReminder      Kind = "consent_reminder"
	KindExportReady          Kind = "export_ready"
	KindDeletionConfirmation Kind = "deletion_confirmation"
	KindDeletionExecuted     Kind = "deletion_executed"
	KindMembershipExpiring   Kind = "membership_expiring"
	KindMembershipExpired    Kind = "membership_expired"
)

// Event is one notification.
type Event struct {
	Kind           Kind           `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key"`
	AccountID      id.AccountID   `json:"account_id"`
	ProfileID      id.ProfileID   `json:"profile_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Notifier sends events. Implementations must tolerate duplicates.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// Key builds an idempotency key from the kind and its discriminating parts.
func Key(kind Kind, parts ...any) string {
	k := string(kind)
	for _, p := range parts {
		k += ":" + fmt.Sprint(p)
	}
	return k
}

func (e Event) marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal notification %s: %w", e.Kind, err)
	}
	return b, nil
}
