package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "membership/pkg/domain"
	dErrors "membership/pkg/domain-errors"
)

var (
	allStatuses = []Status{
		StatusRequested, StatusPendingConfirmation, StatusUnderReview, StatusApproved,
		StatusDenied, StatusExecuting, StatusExecuted, StatusFailed,
	}
	allEvents = []Event{
		EventSendConfirmation, EventConfirm, EventApprove, EventDeny,
		EventStartExecution, EventComplete, EventFail, EventResetFailed,
	}
	now = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
)

func TestTransition_HappyPath(t *testing.T) {
	req, err := NewRequest(id.New[id.ProfileID](), "leaving", nil, id.New[id.AccountID](), now)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ConfirmationToken)

	for _, ev := range []Event{EventSendConfirmation, EventConfirm} {
		require.NoError(t, req.Apply(ev, now))
	}
	require.NoError(t, req.ApplyReview(EventApprove, Review{Reviewer: id.New[id.AccountID](), IsBoard: true}, req.RequestedBy, now))
	require.NoError(t, req.Apply(EventStartExecution, now))
	require.NoError(t, req.Apply(EventComplete, now))
	assert.Equal(t, StatusExecuted, req.Status)
	assert.NotNil(t, req.ExecutedAt)
	assert.NotNil(t, req.ConfirmedAt)
}

// Every pair not in the transition table fails without touching the request.
func TestApply_Totality(t *testing.T) {
	for _, from := range allStatuses {
		for _, ev := range allEvents {
			want, ok := transitions[ev]
			if ok && want.from == from {
				continue
			}
			req := Request{ID: id.New[id.DeletionRequestID](), Status: from, ErrorMessage: "kept"}
			before := req

			err := req.Apply(ev, now)
			require.Error(t, err, "%s --%s-->", from, ev)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
			assert.Equal(t, before, req)
		}
	}
}

func TestApplyReview_Guards(t *testing.T) {
	subject := id.New[id.AccountID]()
	board := id.New[id.AccountID]()

	t.Run("non board reviewer is forbidden", func(t *testing.T) {
		req := Request{Status: StatusUnderReview}
		err := req.ApplyReview(EventApprove, Review{Reviewer: board}, subject, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Equal(t, StatusUnderReview, req.Status)
	})
	t.Run("subject cannot review own request", func(t *testing.T) {
		req := Request{Status: StatusUnderReview}
		err := req.ApplyReview(EventApprove, Review{Reviewer: subject, IsBoard: true}, subject, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	t.Run("deny requires a reason", func(t *testing.T) {
		req := Request{Status: StatusUnderReview}
		err := req.ApplyReview(EventDeny, Review{Reviewer: board, IsBoard: true, DenyReason: "  "}, subject, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, StatusUnderReview, req.Status)
	})
	t.Run("deny with reason is terminal", func(t *testing.T) {
		req := Request{Status: StatusUnderReview}
		require.NoError(t, req.ApplyReview(EventDeny, Review{Reviewer: board, IsBoard: true, DenyReason: "legal hold"}, subject, now))
		assert.Equal(t, StatusDenied, req.Status)
		assert.True(t, req.Status.IsTerminal())
		assert.Equal(t, "legal hold", req.DenialReason)
	})
}

func TestFailureAndReset(t *testing.T) {
	req := Request{Status: StatusExecuting}
	require.NoError(t, req.ApplyFailure(errors.New("drive unavailable"), now))
	assert.Equal(t, StatusFailed, req.Status)
	assert.Equal(t, "drive unavailable", req.ErrorMessage)

	require.NoError(t, req.Apply(EventResetFailed, now))
	assert.Equal(t, StatusApproved, req.Status)
	require.NoError(t, req.Apply(EventStartExecution, now))
	assert.Empty(t, req.ErrorMessage)
}
