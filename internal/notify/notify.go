// Package notify announces committed events to downstream consumers.
// Delivery is best effort: the engine logs a failed publish and moves on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"submitline/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// Log writes one structured line per event.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, ev *events.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event committed",
		"event_id", ev.MustID(),
		"event_type", string(ev.Type()),
		"aggregate_id", ev.AggregateID,
		"creator", ev.Creator.String(),
	)
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *events.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// RedisStream appends each event to a Redis stream.
type RedisStream struct {
	Client *redis.Client
	Stream string
	// MaxLen caps the stream approximately. Zero leaves it unbounded.
	MaxLen int64
}

func (r RedisStream) Publish(ctx context.Context, ev *events.Event) error {
	values, err := StreamValues(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: r.Stream, Values: values}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	if err := r.Client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev, r.Stream, err)
	}
	return nil
}

// StreamValues is the field set of a stream entry.
func StreamValues(ev *events.Event) (map[string]any, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return map[string]any{
		"event_id":     ev.MustID(),
		"event_type":   string(ev.Type()),
		"aggregate_id": ev.AggregateID,
		"event":        string(body),
	}, nil
}
