package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key snapshots live under.
const DefaultKey = "claimd:snapshot"

// Redis archives snapshots in a Redis string key.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to addr and verifies the connection with an exponential
// backoff ping, giving the backend time to come up alongside the daemon.
func NewRedis(ctx context.Context, addr, key string) (*Redis, error) {
	if key == "" {
		key = DefaultKey
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(10*time.Second),
	), ctx)
	ping := func() error { return client.Ping(ctx).Err() }
	if err := backoff.Retry(ping, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("archive: connect %s: %w", addr, err)
	}
	return &Redis{client: client, key: key}, nil
}

func (r *Redis) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("archive: save snapshot: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (r *Redis) Close() error { return r.client.Close() }
