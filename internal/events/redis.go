// Package events forwards run progress to Redis so other processes can
// follow a run. The latest snapshot of each run is stored under a key with a
// TTL and every snapshot is published on a per-run channel.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// Config configures the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	TTL      time.Duration
}

// Publisher implements core.ProgressPublisher on Redis.
type Publisher struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewPublisherWithClient(rdb, cfg.Prefix, cfg.TTL), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *Publisher {
	if prefix == "" {
		prefix = "mailmerge"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Publisher{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *Publisher) key(runID string) string {
	return fmt.Sprintf("%s:run:%s", p.prefix, runID)
}

// Channel returns the pub/sub channel of a run.
func (p *Publisher) Channel(runID string) string {
	return fmt.Sprintf("%s:progress:%s", p.prefix, runID)
}

// Publish stores the snapshot and announces it.
func (p *Publisher) Publish(ctx context.Context, progress core.GenerationProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, p.key(progress.RunID), payload, p.ttl)
	pipe.Publish(ctx, p.Channel(progress.RunID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress %s: %w", progress.RunID, err)
	}
	return nil
}

// Latest returns the last stored snapshot of a run.
func (p *Publisher) Latest(ctx context.Context, runID string) (core.GenerationProgress, error) {
	var progress core.GenerationProgress

	data, err := p.rdb.Get(ctx, p.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return progress, core.ErrRunNotFound
	}
	if err != nil {
		return progress, fmt.Errorf("read progress %s: %w", runID, err)
	}
	if err := json.Unmarshal(data, &progress); err != nil {
		return progress, fmt.Errorf("decode progress %s: %w", runID, err)
	}
	return progress, nil
}

// Subscribe streams snapshots of a run until ctx ends or the run finishes.
// The channel is closed when the subscription ends.
func (p *Publisher) Subscribe(ctx context.Context, runID string) (<-chan core.GenerationProgress, error) {
	sub := p.rdb.Subscribe(ctx, p.Channel(runID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", runID, err)
	}

	out := make(chan core.GenerationProgress, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var progress core.GenerationProgress
				if err := json.Unmarshal([]byte(msg.Payload), &progress); err != nil {
					continue
				}
				select {
				case out <- progress:
				case <-ctx.Done():
					return
				}
				if progress.Finished() {
					return
				}
			}
		}
	}()
	return out, nil
}

// Health pings Redis.
func (p *Publisher) Health(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
