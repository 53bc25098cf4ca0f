package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	lockKeyPrefix     = "inbound:lock:"
	lockRetryInterval = 50 * time.Millisecond
	unlockTimeout     = 2 * time.Second
)

// Deletes the key only if it still holds our token, so an expired lock
// taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker extends the per-instance lock across processes. Waiters in
// the same process queue on a LocalLocker first so only one of them polls
// Redis at a time.
type RedisLocker struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	local *LocalLocker
}

// NewRedisLocker builds a RedisLocker. ttl bounds how long a crashed
// holder can keep an instance locked; a live holder renews the lease every
// ttl/3 until it unlocks, so a slow handoff never outlives it.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, local: NewLocalLocker()}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("inbound: acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			unlockLocal()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stopRenew := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(key, redisKey, token, stopRenew, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopRenew)
			<-renewed
			l.release(key, redisKey, token)
			unlockLocal()
		})
	}, nil
}

// renew keeps the lease alive until stop is closed or the lease is lost.
func (l *RedisLocker) renew(key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		n, err := extendScript.Run(rctx, l.rdb, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			// The next tick retries; the lease still has two thirds left.
			log.Warn().Err(err).Str("instance_key", key).Msg("inbound: renew redis lock")
		case n == 0:
			log.Warn().Str("instance_key", key).Msg("inbound: redis lock lost before release")
			return
		}
	}
}

func (l *RedisLocker) release(key, redisKey, token string) {
	rctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := releaseScript.Run(rctx, l.rdb, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("instance_key", key).Msg("inbound: release redis lock")
	}
}
