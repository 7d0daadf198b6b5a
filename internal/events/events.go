// Package events carries the domain events emitted by committed ledger operations.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event is one observable fact produced by a committed operation.
type Event struct {
	ID        string            `json:"id"`
	Sequence  uint64            `json:"sequence"`
	Block     uint64            `json:"block"`
	Component string            `json:"component"`
	Kind      string            `json:"kind"`
	Actor     string            `json:"actor,omitempty"`
	Accounts  []string          `json:"accounts,omitempty"`
	Amount    uint64            `json:"amount,omitempty"`
	Ref       string            `json:"ref,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	At        time.Time         `json:"at"`
}

// Batch groups the events of a single atomic unit, sealed into the hash chain.
type Batch struct {
	Block       uint64    `json:"block"`
	Operation   string    `json:"operation"`
	CommittedAt time.Time `json:"committed_at"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
	Events      []Event   `json:"events"`
}

// Sink receives committed batches in commit order. Implementations must not call
// back into the ledger.
type Sink interface {
	Publish(ctx context.Context, b Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b Batch) error

func (f SinkFunc) Publish(ctx context.Context, b Batch) error { return f(ctx, b) }

// Discard drops every batch.
var Discard Sink = SinkFunc(func(context.Context, Batch) error { return nil })

// Multi fans a batch out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, b Batch) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu      sync.RWMutex
	events  []Event
	batches int
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, b.Events...)
	r.batches++
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of recorded events in order.
func (r *Recorder) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// List pages through events with sequence greater than afterSeq.
func (r *Recorder) List(limit int, afterSeq uint64) ([]Event, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		res  []Event
		last uint64
	)
	for _, e := range r.events {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last
}

// Batches reports how many batches were recorded.
func (r *Recorder) Batches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batches
}
