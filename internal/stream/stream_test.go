package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/events"
)

func batch(evs ...events.Event) events.Batch {
	return events.Batch{Block: 1, Events: evs}
}

func recv(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestPublishFiltersSubscribers(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := s.Subscribe(ctx, Filter{})
	vaults := s.Subscribe(ctx, Filter{Component: "vault"})
	bob := s.Subscribe(ctx, Filter{Account: "bob"})

	require.NoError(t, s.Publish(ctx, batch(
		events.Event{Sequence: 1, Component: "reward", Kind: "Transferred", Actor: "alice", Accounts: []string{"alice", "bob"}},
		events.Event{Sequence: 2, Component: "vault", Kind: "VaultCreated", Actor: "carol"},
	)))

	assert.Equal(t, uint64(1), recv(t, all).Sequence)
	assert.Equal(t, uint64(2), recv(t, all).Sequence)
	assert.Equal(t, uint64(2), recv(t, vaults).Sequence)
	assert.Equal(t, uint64(1), recv(t, bob).Sequence)

	select {
	case ev := <-bob:
		t.Fatalf("unexpected event for bob: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx, Filter{})

	require.NoError(t, s.Publish(ctx, batch(events.Event{Sequence: 1}, events.Event{Sequence: 2}, events.Event{Sequence: 3})))
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestSubscriptionClosesOnCancel(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, Filter{})
	require.Equal(t, 1, s.Subscribers())
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}
