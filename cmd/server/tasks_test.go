package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"membership/internal/access/drive"
	"membership/internal/jobs"
	dErrors "membership/pkg/domain-errors"
)

func TestRegisterTasksCoversEveryKind(t *testing.T) {
	w := jobs.NewWorker(jobs.NewMemoryQueue())
	registerTasks(w, services{}, 365, slog.New(slog.NewTextHandler(io.Discard, nil)))

	want := append([]jobs.Kind{
		jobs.KindProvisionRole, jobs.KindProvisionTeam, jobs.KindRevokeAll, jobs.KindRevokeTeam,
		jobs.KindReconcile, jobs.KindGenerateExport, jobs.KindExecuteDelete,
	}, jobs.ScheduledKinds...)
	assert.ElementsMatch(t, want, w.Kinds())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
		patient   bool
	}{
		{name: "nil", err: nil},
		{name: "rate limited", err: fmt.Errorf("grant: %w", drive.ErrRateLimited), patient: true},
		{name: "transient", err: dErrors.Wrap(drive.ErrUnavailable, dErrors.CodeExternalTransient, "grant failed")},
		{name: "not found", err: dErrors.New(dErrors.CodeNotFound, "profile not found"), permanent: true},
		{name: "bad transition", err: dErrors.New(dErrors.CodeInvalidTransition, "not approved"), permanent: true},
		{name: "internal", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.permanent, jobs.IsPermanent(got), "permanent")
			assert.Equal(t, tt.patient, jobs.IsPatient(got), "patient")
		})
	}
}
