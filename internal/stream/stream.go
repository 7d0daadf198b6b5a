// Package stream fans committed ledger events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fhayvy/Nexcredis/internal/events"
)

// Filter selects the events a subscriber receives. Empty fields match everything.
type Filter struct {
	Component string
	Account   string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev events.Event) bool {
	if f.Component != "" && f.Component != ev.Component {
		return false
	}
	if f.Account == "" {
		return true
	}
	if ev.Actor == f.Account {
		return true
	}
	for _, a := range ev.Accounts {
		if a == f.Account {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan events.Event
	filter Filter
}

// Stream fan-outs events to all active subscribers (SSE/WebSocket clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New initialises an empty stream. buffer is the per-subscriber queue length.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{subs: make(map[int]*subscriber), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, f Filter) <-chan events.Event {
	sub := &subscriber{ch: make(chan events.Event, s.buffer), filter: f}

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()

	return sub.ch
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Publish implements events.Sink. It never blocks on slow subscribers.
func (s *Stream) Publish(_ context.Context, b events.Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range b.Events {
		for _, sub := range s.subs {
			if !sub.filter.Match(ev) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				s.dropped.Add(1)
			}
		}
	}
	return nil
}
