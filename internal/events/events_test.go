package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(block uint64, kinds ...string) Batch {
	b := Batch{Block: block, Operation: "reward.mint", CommittedAt: time.Unix(1700000000, 0).UTC()}
	for i, k := range kinds {
		b.Events = append(b.Events, Event{Sequence: block*10 + uint64(i), Block: block, Kind: k, Amount: 5})
	}
	return b
}

func TestSealChainVerifies(t *testing.T) {
	b1 := batch(1, "Minted")
	b2 := batch(2, "Transferred", "Transferred")
	require.NoError(t, Seal(GenesisHash, &b1))
	require.NoError(t, Seal(b1.Hash, &b2))
	assert.Len(t, b1.Hash, 64)
	require.NoError(t, Verify([]Batch{b1, b2}))

	tampered := b2
	tampered.Events = append([]Event(nil), b2.Events...)
	tampered.Events[0].Amount = 500
	assert.Error(t, Verify([]Batch{b1, tampered}))

	unlinked := b2
	unlinked.PrevHash = GenesisHash
	assert.Error(t, Verify([]Batch{b1, unlinked}))
}

func TestSealIsDeterministic(t *testing.T) {
	a, b := batch(1, "Minted"), batch(1, "Minted")
	require.NoError(t, Seal(GenesisHash, &a))
	require.NoError(t, Seal(GenesisHash, &b))
	assert.Equal(t, a.Hash, b.Hash)
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	m := Multi{rec, nil, SinkFunc(func(context.Context, Batch) error { return boom })}
	err := m.Publish(context.Background(), batch(1, "Minted"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"Minted"}, rec.Kinds())
}

func TestRecorderList(t *testing.T) {
	rec := NewRecorder()
	require.NoError(t, rec.Publish(context.Background(), batch(1, "A", "B", "C")))
	got, last := rec.List(2, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Kind)
	assert.Equal(t, uint64(12), last)
	assert.Equal(t, 1, rec.Batches())
}
