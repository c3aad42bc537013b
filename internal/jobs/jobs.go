// Package jobs runs slow and external work off the request path: a durable
// queue (Redis or in-memory), a worker pool with bounded exponential backoff
// and a scheduler for the periodic sweeps.
package jobs

//go:generate mockgen -source=jobs.go -destination=mocks/mocks.go -package=mocks Enqueuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	id "membership/pkg/domain"
)

// Kind names a task handler.
type Kind string

const (
	KindProvisionRole  Kind = "access.provision_role"
	KindProvisionTeam  Kind = "access.provision_team"
	KindRevokeAll      Kind = "access.revoke_all"
	KindRevokeTeam     Kind = "access.revoke_team"
	KindReconcile      Kind = "access.reconcile"
	KindGenerateExport Kind = "export.generate"
	KindExecuteDelete  Kind = "deletion.execute"

	KindExpirySweep      Kind = "sweep.role_expiry"
	KindConsentDeadlines Kind = "sweep.consent_deadlines"
	KindReconcileAll     Kind = "sweep.reconcile_all"
	KindRetryFailed      Kind = "sweep.retry_failed_access"
	KindSyncDocuments    Kind = "sweep.sync_documents"
	KindCleanupExports   Kind = "sweep.cleanup_exports"
	KindAnonymizeRejects Kind = "sweep.anonymize_rejected_applications"
)

// ScheduledKinds are the independently triggerable periodic jobs.
var ScheduledKinds = []Kind{
	KindExpirySweep, KindConsentDeadlines, KindReconcileAll, KindRetryFailed,
	KindSyncDocuments, KindCleanupExports, KindAnonymizeRejects,
}

// AccessPayload addresses the access tasks. TeamID is set for team tasks,
// ResourceID for a single-resource reconcile.
type AccessPayload struct {
	ProfileID  id.ProfileID  `json:"profile_id"`
	TeamID     id.TeamID     `json:"team_id"`
	ResourceID id.ResourceID `json:"resource_id"`
}

// ExportPayload addresses an export generation task.
type ExportPayload struct {
	RequestID id.ExportRequestID `json:"request_id"`
}

// DeletionPayload addresses a deletion execution task.
type DeletionPayload struct {
	RequestID id.DeletionRequestID `json:"request_id"`
}

// Task is one unit of queued work.
type Task struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	raw string
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewTask builds a task with a sortable id. payload may be nil.
func NewTask(kind Kind, payload any) (Task, error) {
	now := time.Now().UTC()
	t := Task{ID: newID(now), Kind: kind, EnqueuedAt: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		t.Payload = raw
	}
	return t, nil
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has no payload", t.Kind)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

func (t Task) encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	return string(b), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	t.raw = raw
	return t, nil
}

// Enqueuer accepts work for later execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Queue is the worker's view of a durable queue. Dequeue moves a task to an
// in-flight list; Ack removes it from there.
type Queue interface {
	Enqueuer
	EnqueueAt(ctx context.Context, t Task, at time.Time) error
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)
	Ack(ctx context.Context, t Task) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	RecoverInflight(ctx context.Context) (int, error)
}

// Enqueue builds and enqueues a task in one call.
func Enqueue(ctx context.Context, q Enqueuer, kind Kind, payload any) error {
	t, err := NewTask(kind, payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, t)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

type patientError struct{ err error }

func (e patientError) Error() string { return e.err.Error() }
func (e patientError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// Patient marks err as a rate limit; the retry waits longer.
func Patient(err error) error {
	if err == nil {
		return nil
	}
	return patientError{err}
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// IsPatient reports whether err was marked Patient.
func IsPatient(err error) bool {
	var p patientError
	return errors.As(err, &p)
}
