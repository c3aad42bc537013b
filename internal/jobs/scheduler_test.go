package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"membership/internal/jobs"
	"membership/internal/jobs/mocks"
)

func TestSchedulerTrigger(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := mocks.NewMockEnqueuer(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := jobs.NewScheduler(enq, nil, logger, nil)

	enq.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, task jobs.Task) error {
		assert.Equal(t, jobs.KindExpirySweep, task.Kind)
		assert.NotEmpty(t, task.ID)
		return nil
	})
	s.Trigger(context.Background(), jobs.KindExpirySweep)

	enq.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
	s.Trigger(context.Background(), jobs.KindCleanupExports)
}

func TestSchedulerRunEnqueuesOnInterval(t *testing.T) {
	q := jobs.NewMemoryQueue()
	s := jobs.NewScheduler(q, []jobs.Schedule{
		{Kind: jobs.KindRetryFailed, Interval: 5 * time.Millisecond},
		{Kind: jobs.KindSyncDocuments, Interval: 0},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(q.Pending()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	for _, task := range q.Pending() {
		assert.Equal(t, jobs.KindRetryFailed, task.Kind)
	}
}
