// Package redisindex stores submit idempotency keys in redis.
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "patient-portal:idempotency:"
	reserveAttempts = 3
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// commander is the subset of redis.Cmdable the index needs.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Index struct {
	rdb commander
	ttl time.Duration
}

// NewClient connects and pings redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func New(rdb commander, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Index{rdb: rdb, ttl: ttl}
}

// Reserve claims the key with SETNX. A lost claim reports the holder; if the
// holder expired between SETNX and GET the claim is attempted again.
func (i *Index) Reserve(ctx context.Context, ownerID, key, jobID string) (string, bool, error) {
	k := idempKey(ownerID, key)
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		ok, err := i.rdb.SetNX(ctx, k, jobID, i.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis setnx idempotency: %w", err)
		}
		if ok {
			return jobID, true, nil
		}

		existing, err := i.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("redis get idempotency: %w", err)
		}
		return existing, existing == jobID, nil
	}
	return "", false, fmt.Errorf("redis reserve idempotency: key %q kept expiring", key)
}

// Release deletes the claim when it still names jobID. The GET and DEL are
// not atomic; a claim taken in between only loses its dedupe window.
func (i *Index) Release(ctx context.Context, ownerID, key, jobID string) error {
	k := idempKey(ownerID, key)
	existing, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get idempotency: %w", err)
	}
	if existing != jobID {
		return nil
	}
	if err := i.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del idempotency: %w", err)
	}
	return nil
}

func idempKey(ownerID, key string) string {
	return keyPrefix + ownerID + ":" + key
}
