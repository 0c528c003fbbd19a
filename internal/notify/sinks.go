package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tisp.org/internal/audit"
	"tisp.org/internal/trust"
)

var (
	_ trust.Notifier = LogSink{}
	_ trust.Notifier = (*RedisSink)(nil)
	_ trust.Notifier = (*Broker)(nil)
	_ trust.Notifier = Multi{}
)

// LogSink writes each event as an info line.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	if s.Logger == nil {
		return nil
	}
	fields := []zap.Field{zap.String("event", eventType), zap.Any("payload", payload)}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	s.Logger.Info("trust event", fields...)
	return nil
}

// publisher is the subset of *redis.Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes a JSON envelope per event on a pub/sub channel.
type RedisSink struct {
	client  publisher
	closer  func() error
	channel string
}

// NewRedisSink connects to the server at url (redis://host:port/db).
func NewRedisSink(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisSink{client: client, closer: client.Close, channel: channel}, nil
}

// Ping checks connectivity when the sink owns a real client.
func (s *RedisSink) Ping(ctx context.Context) error {
	if c, ok := s.client.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	}); ok {
		return c.Ping(ctx).Err()
	}
	return nil
}

func (s *RedisSink) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	raw, err := json.Marshal(NewEvent(eventType, payload))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.Publish(ctx, s.channel, raw).Err()
}

func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Multi forwards to every sink and joins their errors.
type Multi []trust.Notifier

func (m Multi) Notify(ctx context.Context, eventType string, payload map[string]any) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
