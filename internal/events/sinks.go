package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eatd/vl-desktop-agent/internal/types"
)

// DefaultRedisChannel is the pub/sub channel events are published to.
const DefaultRedisChannel = "vlagent:events"

// RedisSink publishes each event as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel, timeout: 2 * time.Second}
}

func (s *RedisSink) Send(ctx context.Context, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, ev types.Event) error {
	level := slog.LevelDebug
	switch ev.Type {
	case types.EventError:
		level = slog.LevelError
	case types.EventWarning:
		level = slog.LevelWarn
	case types.EventStep, types.EventStatus:
		level = slog.LevelInfo
	case types.EventPreview:
		return nil
	}
	s.Logger.Log(ctx, level, "event", "type", ev.Type, "session_id", ev.SessionID, "payload", string(ev.Payload))
	return nil
}
