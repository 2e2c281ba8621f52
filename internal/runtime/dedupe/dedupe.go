// Package dedupe remembers which request messages already produced a response
// so broker redeliveries are not answered twice.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces guard entries in Redis.
const KeyPrefix = "sickenflow:dispatched:"

// ClaimTTL bounds how long a claim survives a consumer that died before
// marking or releasing it.
const ClaimTTL = 10 * time.Minute

const (
	valuePending  = "pending"
	valueAnswered = "answered"
)

const pingTimeout = 5 * time.Second

// Status is the result of a claim.
type Status int

const (
	// StatusClaimed means the caller now owns the key and must Mark or
	// Release it.
	StatusClaimed Status = iota
	// StatusInFlight means another consumer holds the claim.
	StatusInFlight
	// StatusAnswered means a response was already published.
	StatusAnswered
)

func (s Status) String() string {
	switch s {
	case StatusClaimed:
		return "claimed"
	case StatusInFlight:
		return "in_flight"
	case StatusAnswered:
		return "answered"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Guard claims message keys atomically across worker replicas.
type Guard interface {
	Claim(ctx context.Context, key string) (Status, error)
	Mark(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	Close() error
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisGuard stores one key per message. Claims expire after
// min(ttl, ClaimTTL), answered keys after ttl.
type RedisGuard struct {
	client   redisClient
	ttl      time.Duration
	claimTTL time.Duration
}

// NewRedisGuard connects to url (redis://host:port/db) and verifies the
// connection with a ping.
func NewRedisGuard(ctx context.Context, url string, ttl time.Duration) (*RedisGuard, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = pingTimeout
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisGuard(client, ttl), nil
}

func newRedisGuard(client redisClient, ttl time.Duration) *RedisGuard {
	claimTTL := ClaimTTL
	if ttl > 0 && ttl < claimTTL {
		claimTTL = ttl
	}
	return &RedisGuard{client: client, ttl: ttl, claimTTL: claimTTL}
}

// Claim sets the key with SET NX. When another consumer got there first the
// stored value tells an answered message from one still in flight; a key that
// expired between the two calls counts as in flight.
func (g *RedisGuard) Claim(ctx context.Context, key string) (Status, error) {
	ok, err := g.client.SetNX(ctx, KeyPrefix+key, valuePending, g.claimTTL).Result()
	if err != nil {
		return StatusInFlight, err
	}
	if ok {
		return StatusClaimed, nil
	}
	value, err := g.client.Get(ctx, KeyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return StatusInFlight, nil
	case err != nil:
		return StatusInFlight, err
	case value == valueAnswered:
		return StatusAnswered, nil
	default:
		return StatusInFlight, nil
	}
}

func (g *RedisGuard) Mark(ctx context.Context, key string) error {
	return g.client.Set(ctx, KeyPrefix+key, valueAnswered, g.ttl).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, KeyPrefix+key).Err()
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
