package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisAttemptTracker stores each key as a sorted set of failures scored by
// their unix millisecond timestamp. Members older than the window are trimmed
// on every increment and ignored on reads; the key itself expires one window
// after the newest failure.
type RedisAttemptTracker struct {
	client *redis.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

func NewRedisAttemptTracker(client *redis.Client, prefix string, window time.Duration) *RedisAttemptTracker {
	return &RedisAttemptTracker{
		client: client,
		prefix: prefix,
		window: window,
		now:    time.Now,
	}
}

func (t *RedisAttemptTracker) key(key string) string {
	return fmt.Sprintf("%s:attempts:%s", t.prefix, key)
}

// cutoff is the newest score that falls outside the window.
func (t *RedisAttemptTracker) cutoff(now time.Time) string {
	if t.window <= 0 {
		return "-inf"
	}
	return strconv.FormatInt(now.Add(-t.window).UnixMilli(), 10)
}

func (t *RedisAttemptTracker) Increment(ctx context.Context, key string) (Attempt, error) {
	const op = "auth.RedisAttemptTracker.Increment"

	rkey := t.key(key)
	now := t.now()

	pipe := t.client.TxPipeline()
	if t.window > 0 {
		pipe.ZRemRangeByScore(ctx, rkey, "-inf", t.cutoff(now))
	}
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, rkey)
	if t.window > 0 {
		pipe.PExpire(ctx, rkey, t.window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Attempt{}, fmt.Errorf("%s: %w", op, err)
	}

	return Attempt{Count: int(card.Val()), LastAttempt: now}, nil
}

func (t *RedisAttemptTracker) Reset(ctx context.Context, key string) error {
	const op = "auth.RedisAttemptTracker.Reset"

	if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *RedisAttemptTracker) Peek(ctx context.Context, key string) (Attempt, error) {
	const op = "auth.RedisAttemptTracker.Peek"

	rkey := t.key(key)
	from := t.cutoff(t.now())
	if from != "-inf" {
		from = "(" + from
	}

	pipe := t.client.Pipeline()
	count := pipe.ZCount(ctx, rkey, from, "+inf")
	last := pipe.ZRevRangeWithScores(ctx, rkey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Attempt{}, fmt.Errorf("%s: %w", op, err)
	}

	n := int(count.Val())
	if n == 0 {
		return Attempt{}, nil
	}
	a := Attempt{Count: n}
	if zs := last.Val(); len(zs) > 0 {
		a.LastAttempt = time.UnixMilli(int64(zs[0].Score))
	}
	return a, nil
}
