// Package redisstream publishes committed events to a Redis stream.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fhayvy/Nexcredis/internal/events"
)

// Adder is the part of *redis.Client the sink uses.
type Adder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Sink appends one stream entry per event.
type Sink struct {
	client Adder
	stream string
	maxLen int64
}

// Option configures Sink.
type Option func(*Sink)

// WithMaxLen trims the stream approximately to n entries.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New returns a sink writing to stream.
func New(client Adder, stream string, opts ...Option) *Sink {
	s := &Sink{client: client, stream: stream}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to addr (host:port or redis:// URL) and pings it.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Publish implements events.Sink.
func (s *Sink) Publish(ctx context.Context, b events.Batch) error {
	for _, ev := range b.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{
				"sequence":   strconv.FormatUint(ev.Sequence, 10),
				"block":      strconv.FormatUint(b.Block, 10),
				"kind":       ev.Kind,
				"component":  ev.Component,
				"batch_hash": b.Hash,
				"event":      string(payload),
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis xadd %s seq %d: %w", s.stream, ev.Sequence, err)
		}
	}
	return nil
}
