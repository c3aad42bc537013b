package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"membership/pkg/platform/outbox"
)

type captureWriter struct{ msgs []outbox.Message }

func (w *captureWriter) Append(_ context.Context, m outbox.Message) error {
	w.msgs = append(w.msgs, m)
	return nil
}

type captureProducer struct{ msgs []outbox.Message }

func (p *captureProducer) Publish(_ context.Context, msgs []outbox.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestOutboxRoundTripIntoQueue(t *testing.T) {
	ctx := context.Background()
	w := &captureWriter{}
	require.NoError(t, Enqueue(ctx, NewOutboxEnqueuer(w), KindRevokeAll, map[string]string{"profile_id": "p1"}))
	require.Len(t, w.msgs, 1)
	require.Equal(t, Topic, w.msgs[0].Topic)
	require.Equal(t, string(KindRevokeAll), w.msgs[0].Key)

	q := NewMemoryQueue()
	other := &captureProducer{}
	router := outbox.NewRouter(other).Route(Topic, NewQueueProducer(q))
	notification := outbox.Message{ID: 2, Topic: "membership.notifications", Payload: []byte(`{}`)}
	w.msgs[0].ID = 1
	require.NoError(t, router.Publish(ctx, []outbox.Message{w.msgs[0], notification}))

	require.Len(t, other.msgs, 1)
	require.Equal(t, "membership.notifications", other.msgs[0].Topic)
	task, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, KindRevokeAll, task.Kind)
	var payload map[string]string
	require.NoError(t, task.Decode(&payload))
	require.Equal(t, "p1", payload["profile_id"])
}

func TestQueueProducerRejectsGarbage(t *testing.T) {
	p := NewQueueProducer(NewMemoryQueue())
	err := p.Publish(context.Background(), []outbox.Message{{ID: 9, Topic: Topic, Payload: []byte("nope")}})
	require.ErrorContains(t, err, "relay task 9")
}
