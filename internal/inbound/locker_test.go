package inbound

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertExclusive(t *testing.T, l Locker, key string) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestLocalLocker_ExclusivePerKey(t *testing.T) {
	l := NewLocalLocker()
	assertExclusive(t, l, "inst-1")
	assert.Equal(t, 0, l.held(), "slots must be released")
}

func TestLocalLocker_KeysIndependentAndCancel(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	// Another key is free while "a" is held.
	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA() // idempotent
	assert.Equal(t, 0, l.held())

	unlockA2, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockA2()
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLocker_ExclusiveAcrossLockers(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	a := NewRedisLocker(rdb, time.Second)
	b := NewRedisLocker(rdb, time.Second)

	unlock, err := a.Lock(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKeyPrefix+"inst-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx, "inst-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists(lockKeyPrefix+"inst-1"))

	unlockB, err := b.Lock(context.Background(), "inst-1")
	require.NoError(t, err)
	unlockB()

	assertExclusive(t, a, "inst-2")
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedisLocker(rdb, time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Lock expired and was taken by someone else.
	require.NoError(t, mr.Set(lockKeyPrefix+"k", "other-token"))
	unlock()

	v, err := mr.Get(lockKeyPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "other-token", v)
}

func TestRedisLocker_RenewsLeaseWhileHeld(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	const ttl = 300 * time.Millisecond
	l := NewRedisLocker(rdb, ttl)
	key := lockKeyPrefix + "slow"

	unlock, err := l.Lock(context.Background(), "slow")
	require.NoError(t, err)

	// Burn most of the lease as a slow handoff would.
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool { return mr.TTL(key) > 200*time.Millisecond }, 2*time.Second, 10*time.Millisecond,
		"lease must be renewed while the lock is held")

	// Well past the original lease, still ours.
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool { return mr.TTL(key) > 200*time.Millisecond }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mr.Exists(key))

	other := NewRedisLocker(rdb, ttl)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = other.Lock(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists(key))
	time.Sleep(ttl / 2)
	assert.False(t, mr.Exists(key), "no renewal after unlock")
}

func TestRedisLocker_RedisDown(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedisLocker(rdb, time.Second)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, 0, l.local.held(), "local slot must be released on failure")
}
