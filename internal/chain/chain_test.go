package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newChain() (*Chain, *events.Recorder, *clock.Manual) {
	rec := events.NewRecorder()
	clk := clock.NewManual(t0)
	return New(clk, WithSink(rec)), rec, clk
}

func TestAtomicCommitAssignsSequenceAndHash(t *testing.T) {
	c, rec, _ := newChain()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := c.Atomic(ctx, "test", "op", func(ctx context.Context, tx *Tx) error {
			tx.Emit(events.Event{Kind: "A"})
			tx.Emit(events.Event{Kind: "B"})
			return nil
		})
		require.NoError(t, err)
	}

	got := rec.Events()
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.Equal(t, "test", e.Component)
		assert.Equal(t, t0, e.At)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, uint64(1), got[1].Block)
	assert.Equal(t, uint64(2), got[2].Block)

	block, seq := c.Height()
	assert.Equal(t, uint64(2), block)
	assert.Equal(t, uint64(4), seq)
	assert.NotEqual(t, events.GenesisHash, c.Head())
}

func TestAtomicRollsBackInReverseOrder(t *testing.T) {
	c, rec, _ := newChain()
	var order []int
	state := 0

	err := c.Atomic(context.Background(), "test", "op", func(ctx context.Context, tx *Tx) error {
		state = 1
		tx.OnRollback(func() { order = append(order, 1); state = 0 })
		state = 2
		tx.OnRollback(func() { order = append(order, 2); state = 1 })
		tx.Emit(events.Event{Kind: "Dropped"})
		return sentinel.ErrInvalidState
	})

	require.ErrorIs(t, err, sentinel.ErrInvalidState)
	assert.Equal(t, []int{2, 1}, order)
	assert.Equal(t, 0, state)
	assert.Empty(t, rec.Events())
}

func TestAtomicConvertsPanic(t *testing.T) {
	c, _, _ := newChain()
	undone := false
	err := c.Atomic(context.Background(), "test", "boom", func(ctx context.Context, tx *Tx) error {
		tx.OnRollback(func() { undone = true })
		panic("kaboom")
	})
	require.ErrorIs(t, err, ErrPanic)
	assert.True(t, undone)

	// the lock was released
	require.NoError(t, c.Atomic(context.Background(), "test", "after", func(context.Context, *Tx) error { return nil }))
}

func TestNestedJoinsOuterUnit(t *testing.T) {
	c, rec, _ := newChain()
	outerState, innerState := 0, 0

	err := c.Atomic(context.Background(), "outer", "op", func(ctx context.Context, tx *Tx) error {
		outerState = 1
		tx.OnRollback(func() { outerState = 0 })
		tx.Emit(events.Event{Kind: "Outer"})

		// nested call must not deadlock and must see the same block time
		return c.Atomic(ctx, "inner", "op", func(ctx context.Context, inner *Tx) error {
			assert.Same(t, tx, inner)
			innerState = 1
			inner.OnRollback(func() { innerState = 0 })
			inner.Emit(events.Event{Kind: "Inner"})
			return sentinel.ErrUnauthorized
		})
	})

	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
	assert.Equal(t, 0, outerState)
	assert.Equal(t, 0, innerState)
	assert.Empty(t, rec.Events())
}

func TestNestedFailureHandledByCallerKeepsOuterWork(t *testing.T) {
	c, rec, _ := newChain()
	innerState := 0

	err := c.Atomic(context.Background(), "outer", "op", func(ctx context.Context, tx *Tx) error {
		tx.Emit(events.Event{Kind: "Outer"})
		innerErr := c.Atomic(ctx, "inner", "op", func(ctx context.Context, inner *Tx) error {
			innerState = 1
			inner.OnRollback(func() { innerState = 0 })
			inner.Emit(events.Event{Kind: "Inner"})
			return errors.New("inner failed")
		})
		require.Error(t, innerErr)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, innerState)
	assert.Equal(t, []string{"Outer"}, rec.Kinds())
}

func TestSinkFailureDoesNotRevert(t *testing.T) {
	clk := clock.NewManual(t0)
	c := New(clk, WithSink(events.SinkFunc(func(context.Context, events.Batch) error {
		return errors.New("sink down")
	})))
	state := 0
	err := c.Atomic(context.Background(), "test", "op", func(ctx context.Context, tx *Tx) error {
		state = 1
		tx.OnRollback(func() { state = 0 })
		tx.Emit(events.Event{Kind: "A"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, state)
}

func TestViewUsesUnitTimeInsideAtomic(t *testing.T) {
	c, _, clk := newChain()
	err := c.Atomic(context.Background(), "test", "op", func(ctx context.Context, tx *Tx) error {
		clk.Advance(time.Hour)
		return c.View(ctx, func(now time.Time) error {
			assert.Equal(t, t0, now)
			return nil
		})
	})
	require.NoError(t, err)

	require.NoError(t, c.View(context.Background(), func(now time.Time) error {
		assert.Equal(t, t0.Add(time.Hour), now)
		return nil
	}))
}

func TestOtherChainContextDoesNotJoin(t *testing.T) {
	a, recA, _ := newChain()
	b, recB, _ := newChain()
	err := a.Atomic(context.Background(), "a", "op", func(ctx context.Context, tx *Tx) error {
		tx.Emit(events.Event{Kind: "A"})
		return b.Atomic(ctx, "b", "op", func(ctx context.Context, inner *Tx) error {
			assert.NotSame(t, tx, inner)
			inner.Emit(events.Event{Kind: "B"})
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, recA.Kinds())
	assert.Equal(t, []string{"B"}, recB.Kinds())
}

func TestNestedEventsKeepTheirComponent(t *testing.T) {
	c, rec, _ := newChain()
	ctx := context.Background()

	err := c.Atomic(ctx, "outer", "run", func(ctx context.Context, tx *Tx) error {
		tx.Emit(events.Event{Kind: "Before"})
		if err := c.Atomic(ctx, "inner", "step", func(ctx context.Context, tx *Tx) error {
			tx.Emit(events.Event{Kind: "Inner"})
			return nil
		}); err != nil {
			return err
		}
		tx.Emit(events.Event{Kind: "After"})
		return nil
	})
	require.NoError(t, err)

	got := rec.Events()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"outer", "inner", "outer"}, []string{got[0].Component, got[1].Component, got[2].Component})
	batches := rec.Batches()
	assert.Equal(t, 1, batches)
}
