// Package notify broadcasts run-state transitions to other pods over
// Redis pub/sub. Redis is never a source of truth here: every consumer
// can rebuild the same information by polling the store, so a missed or
// dropped message is harmless and the publisher never blocks a mutation
// on delivery (SPEC_FULL.md §5).
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateChange is the payload broadcast on the configured channel.
type StateChange struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// Publisher broadcasts RunStateChange events. Close releases any
// underlying connection.
type Publisher interface {
	PublishRunStateChange(ctx context.Context, change StateChange) error
	Close() error
}

// noopPublisher is used when REDIS_ADDR/config.RedisConfig.Addr is unset.
type noopPublisher struct{}

// NewNoop returns a Publisher that discards every event.
func NewNoop() Publisher { return noopPublisher{} }

func (noopPublisher) PublishRunStateChange(ctx context.Context, change StateChange) error { return nil }
func (noopPublisher) Close() error                                                        { return nil }

// RedisPublisher publishes StateChange events as JSON on a single Redis
// pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher dials addr and verifies connectivity with a short-lived
// ping, mirroring the connect-then-verify pattern other Redis-backed
// components in the pack use.
func NewRedisPublisher(addr, password string, db int, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisPublisher{client: client, channel: channel}, nil
}

// PublishRunStateChange publishes change on the configured channel. Errors
// are returned to the caller, which is expected to log-and-continue rather
// than fail the state mutation that triggered the broadcast.
func (p *RedisPublisher) PublishRunStateChange(ctx context.Context, change StateChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogFailure is a convenience used by best-effort callers that don't want
// a broadcast failure to interrupt the caller's own return path.
func LogFailure(runID, status string, err error) {
	if err == nil {
		return
	}
	slog.Warn("failed to broadcast run state change", "run_id", runID, "status", status, "error", err)
}
