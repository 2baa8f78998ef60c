// Package idempotency de-duplicates retried cashbox operations. The first call with a
// key reserves it, runs and stores its JSON result; repeats replay that result.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidroute/cashbox/internal/logging"
)

const (
	keyPrefix        = "cashbox:idempotency:v1:"
	inProgressMarker = "__in_progress__"
	cleanupTimeout   = 2 * time.Second
)

// ErrInProgress is returned while another call holding the same key is still running.
var ErrInProgress = errors.New("duplicate request currently processing")

// Store reserves keys and keeps completed results.
type Store interface {
	// Reserve claims key. When the key already exists it returns its stored value and
	// reserved=false; the value is nil while the first call is still running.
	Reserve(ctx context.Context, key string, ttl time.Duration) (stored []byte, reserved bool, err error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RedisStore implements Store with SETNX reservations.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, inProgressMarker, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency reservation: %w", err)
	}
	if ok {
		return nil, true, nil
	}
	cached, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; treat as still in flight.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if cached == inProgressMarker {
		return nil, false, nil
	}
	return []byte(cached), false, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// Guard wraps operations with de-duplication. A nil Guard runs operations directly.
type Guard struct {
	store Store
	ttl   time.Duration
	log   *logging.Logger
}

func NewGuard(store Store, ttl time.Duration, log *logging.Logger) *Guard {
	if log == nil {
		log = logging.Discard()
	}
	return &Guard{store: store, ttl: ttl, log: log}
}

// Do runs fn once per (scope, key). A repeated key returns the stored result with
// replayed=true. An empty key, or a nil guard, always runs fn. Failed runs release the
// key so the caller may retry.
func Do[T any](ctx context.Context, g *Guard, scope, key string, fn func(context.Context) (T, error)) (result T, replayed bool, err error) {
	if g == nil || g.store == nil || key == "" {
		result, err = fn(ctx)
		return result, false, err
	}
	full := scope + ":" + key

	stored, reserved, err := g.store.Reserve(ctx, full, g.ttl)
	if err != nil {
		return result, false, err
	}
	if !reserved {
		if stored == nil {
			return result, false, ErrInProgress
		}
		if err := json.Unmarshal(stored, &result); err != nil {
			g.log.Warn(g.log.WithField(ctx, "key", full), "failed to decode stored idempotent result", err)
			return result, false, ErrInProgress
		}
		return result, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		g.release(full)
		return result, false, err
	}

	payload, mErr := json.Marshal(result)
	if mErr == nil {
		mErr = g.store.Save(ctx, full, payload, g.ttl)
	}
	if mErr != nil {
		// The operation committed; the in-progress marker stays until its TTL so a
		// retry cannot run it twice.
		g.log.Error(g.log.WithField(ctx, "key", full), "failed to persist idempotent result", mErr)
	}
	return result, false, nil
}

func (g *Guard) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := g.store.Release(ctx, key); err != nil {
		g.log.Warn(g.log.WithField(ctx, "key", key), "failed to release idempotency key", err)
	}
}
