// Package bridge mirrors robot/mission status to Redis Streams on a
// best-effort basis, decoupled from the authoritative Object Store writes
// (spec.md's non-authoritative observability surface). Consumers such as
// fleet dashboards can tail these streams without touching the Object
// Store's own REST API.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/store"
)

const (
	robotStatusStream   = "missiondispatch:robot_status"
	missionStatusStream = "missiondispatch:mission_status"
	streamMaxLen        = 10000
)

// RedisMirror publishes status snapshots to Redis Streams, grounded on the
// teacher's bridge/redis_publisher.go XADD-with-MaxLen/Approx shape; where
// that publisher JSON-encoded sensor payloads for a Python ML backend,
// this one msgpack-encodes RobotStatus/MissionStatus snapshots, matching
// the pack's use of vmihailenco/msgpack for compact wire encoding.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisMirror connects to redisURL ("redis://host:port/db"). If
// redisURL is empty the mirror is a no-op (Redis is optional ambient
// observability, not required for correctness).
func NewRedisMirror(redisURL string, logger *zap.Logger) (*RedisMirror, error) {
	if redisURL == "" {
		return &RedisMirror{logger: logger}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisMirror{client: client, logger: logger}, nil
}

// MirrorRobotStatus best-effort publishes a robot's status snapshot.
// Failures are logged, never returned to the caller — this mirror must
// never gate mission execution.
func (m *RedisMirror) MirrorRobotStatus(ctx context.Context, name string, status store.RobotStatus) {
	if m.client == nil {
		return
	}
	payload, err := msgpack.Marshal(status)
	if err != nil {
		m.logger.Warn("failed to encode robot status for mirror", zap.Error(err))
		return
	}
	m.xadd(ctx, robotStatusStream, name, payload)
}

// MirrorMissionStatus best-effort publishes a mission's status snapshot.
func (m *RedisMirror) MirrorMissionStatus(ctx context.Context, name string, status store.MissionStatus) {
	if m.client == nil {
		return
	}
	payload, err := msgpack.Marshal(status)
	if err != nil {
		m.logger.Warn("failed to encode mission status for mirror", zap.Error(err))
		return
	}
	m.xadd(ctx, missionStatusStream, name, payload)
}

func (m *RedisMirror) xadd(ctx context.Context, stream, name string, payload []byte) {
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"name":    name,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		m.logger.Warn("redis mirror write failed", zap.String("stream", stream), zap.Error(err))
	}
}

// Close releases the underlying Redis connection, if any.
func (m *RedisMirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
