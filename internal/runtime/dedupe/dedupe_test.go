package dedupe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	keys   map[string]string
	ttls   map[string]time.Duration
	err    error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.keys[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestGuardClaimLifecycle(t *testing.T) {
	fake := newFakeRedis()
	g := newRedisGuard(fake, 24*time.Hour)
	ctx := context.Background()

	status, err := g.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
	assert.Equal(t, valuePending, fake.keys[KeyPrefix+"msg-1"])
	assert.Equal(t, ClaimTTL, fake.ttls[KeyPrefix+"msg-1"])

	status, err = g.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInFlight, status)

	require.NoError(t, g.Mark(ctx, "msg-1"))
	assert.Equal(t, 24*time.Hour, fake.ttls[KeyPrefix+"msg-1"])

	status, err = g.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, status)
}

func TestGuardReleaseAllowsReclaim(t *testing.T) {
	g := newRedisGuard(newFakeRedis(), time.Hour)
	ctx := context.Background()

	status, err := g.Claim(ctx, "msg")
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, status)
	require.NoError(t, g.Release(ctx, "msg"))

	status, err = g.Claim(ctx, "msg")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)
}

// Replicas racing on one redelivered message: exactly one wins the claim.
func TestGuardClaimIsExclusive(t *testing.T) {
	g := newRedisGuard(newFakeRedis(), time.Hour)

	const replicas = 8
	results := make(chan Status, replicas)
	var wg sync.WaitGroup
	for range replicas {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := g.Claim(context.Background(), "shared")
			assert.NoError(t, err)
			results <- status
		}()
	}
	wg.Wait()
	close(results)

	claimed := 0
	for status := range results {
		if status == StatusClaimed {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestGuardClaimTTLCappedByTTL(t *testing.T) {
	fake := newFakeRedis()
	g := newRedisGuard(fake, time.Minute)

	_, err := g.Claim(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, fake.ttls[KeyPrefix+"short"])
}

func TestGuardPropagatesErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	g := newRedisGuard(fake, time.Minute)
	ctx := context.Background()

	_, err := g.Claim(ctx, "msg")
	assert.Error(t, err)
	assert.Error(t, g.Mark(ctx, "msg"))
	assert.Error(t, g.Release(ctx, "msg"))
}

func TestGuardClose(t *testing.T) {
	fake := newFakeRedis()
	require.NoError(t, newRedisGuard(fake, time.Minute).Close())
	assert.True(t, fake.closed)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "claimed", StatusClaimed.String())
	assert.Equal(t, "in_flight", StatusInFlight.String())
	assert.Equal(t, "answered", StatusAnswered.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestNewRedisGuardValidatesURL(t *testing.T) {
	_, err := NewRedisGuard(context.Background(), "", time.Minute)
	assert.Error(t, err)

	_, err = NewRedisGuard(context.Background(), "http://not-redis", time.Minute)
	assert.ErrorContains(t, err, "parse redis url")
}
