package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "membership:jobs"

// promoteScript moves due delayed tasks onto the ready list atomically so two
// workers never promote the same task twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, raw in ipairs(due) do
	redis.call('ZREM', KEYS[1], raw)
	redis.call('LPUSH', KEYS[2], raw)
end
return #due
`)

// RedisQueue keeps tasks in three keys: a ready list, an in-flight list fed
// by BLMOVE, and a sorted set of delayed tasks scored by due time.
type RedisQueue struct {
	client     *redis.Client
	ready      string
	processing string
	delayed    string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisQueue{
		client:     client,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	raw, err := t.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", t.Kind, err)
	}
	return nil
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, t Task, at time.Time) error {
	raw, err := t.encode()
	if err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(at.UnixMilli()), Member: raw}).Err(); err != nil {
		return fmt.Errorf("schedule %s: %w", t.Kind, err)
	}
	return nil
}

// Dequeue blocks up to wait. It returns nil, nil when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	raw, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	t, err := decodeTask(raw)
	if err != nil {
		// Poison message: drop it from the in-flight list.
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, err
	}
	return &t, nil
}

func (q *RedisQueue) Ack(ctx context.Context, t Task) error {
	if t.raw == "" {
		return errors.New("ack: task was not dequeued")
	}
	return q.client.LRem(ctx, q.processing, 1, t.raw).Err()
}

func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.ready},
		strconv.FormatInt(now.UnixMilli(), 10), 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed tasks: %w", err)
	}
	return n, nil
}

// RecoverInflight returns tasks left in flight by a crashed worker to the
// ready list. Call it once at startup before workers begin.
func (q *RedisQueue) RecoverInflight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.ready, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover in-flight tasks: %w", err)
		}
		n++
	}
}

// Depth reports the ready, in-flight and delayed counts.
func (q *RedisQueue) Depth(ctx context.Context) (ready, inflight, delayed int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, q.ready)
	p := pipe.LLen(ctx, q.processing)
	d := pipe.ZCard(ctx, q.delayed)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), p.Val(), d.Val(), nil
}
