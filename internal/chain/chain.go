// Package chain is the single linearizable execution context shared by every
// registry of a network.
//
// An operation runs inside an atomic unit opened with Chain.Atomic. The unit holds
// the chain lock for its whole duration. Registries record how to undo each
// mutation with Tx.OnRollback and buffer their events with Tx.Emit; if the
// operation returns an error or panics the undo log is replayed in reverse and
// the buffered events are dropped. Cross-registry calls made with the unit's
// context join it instead of locking again, so a failure anywhere reverts the
// whole outer operation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/ids"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

// ErrPanic wraps a panic recovered inside an atomic unit.
var ErrPanic = errors.New("chain: operation panicked")

// Chain serializes atomic units and commits their events in order.
type Chain struct {
	mu     sync.Mutex
	clock  clock.Clock
	sink   events.Sink
	log    logrus.FieldLogger
	tracer trace.Tracer

	seq      uint64
	block    uint64
	lastHash string
	lastNow  time.Time
}

// Option customizes a Chain.
type Option func(*Chain)

// WithSink sets where committed batches are published.
func WithSink(s events.Sink) Option {
	return func(c *Chain) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithLogger overrides the logger used for sink failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Chain) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Chain) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New creates a chain reading time from clk.
func New(clk clock.Clock, opts ...Option) *Chain {
	if clk == nil {
		clk = clock.System{}
	}
	c := &Chain{
		clock:    clk,
		sink:     events.Discard,
		log:      obs.Logger(),
		tracer:   otel.Tracer("github.com/fhayvy/Nexcredis/internal/chain"),
		lastHash: events.GenesisHash,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tx is the state of the atomic unit in progress.
type Tx struct {
	chain     *Chain
	now       time.Time
	component string
	op        string
	undo      []func()
	events    []events.Event
}

// Now is the block time of the unit; it does not change while the unit runs.
func (t *Tx) Now() time.Time { return t.now }

// OnRollback registers fn to run if the unit reverts. Undo functions run in
// reverse registration order and must not fail.
func (t *Tx) OnRollback(fn func()) {
	if fn != nil {
		t.undo = append(t.undo, fn)
	}
}

// Emit buffers e until the outer unit commits.
func (t *Tx) Emit(e events.Event) {
	if e.Component == "" {
		e.Component = t.component
	}
	t.events = append(t.events, e)
}

type txKey struct{}

// FromContext returns the unit carried by ctx, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

func (c *Chain) joined(ctx context.Context) (*Tx, bool) {
	tx, ok := FromContext(ctx)
	if !ok || tx.chain != c {
		return nil, false
	}
	return tx, true
}

// Atomic runs fn as one all-or-nothing unit named component.op.
//
// Called with a context that already carries a unit of this chain, fn joins it:
// on failure only fn's own mutations are undone and the error is returned to
// the enclosing operation, which normally propagates it and reverts the rest.
func (c *Chain) Atomic(ctx context.Context, component, op string, fn func(ctx context.Context, tx *Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx, ok := c.joined(ctx); ok {
		return c.nested(ctx, tx, component, op, fn)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, component+"."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("nexc.component", component),
			attribute.String("nexc.op", op),
		))
	defer span.End()

	now := c.clock.Now().UTC()
	if now.Before(c.lastNow) {
		now = c.lastNow
	}
	tx := &Tx{chain: c, now: now, component: component, op: op}
	start := time.Now()

	err := run(context.WithValue(ctx, txKey{}, tx), tx, fn)
	obs.ObserveOp(component, op, sentinel.Kind(err), time.Since(start))
	if err != nil {
		tx.rollback(0)
		span.RecordError(err)
		span.SetStatus(codes.Error, sentinel.Kind(err))
		return err
	}

	c.lastNow = now
	c.commit(ctx, tx)
	span.SetAttributes(attribute.Int64("nexc.block", int64(c.block)))
	return nil
}

func (c *Chain) nested(ctx context.Context, tx *Tx, component, op string, fn func(ctx context.Context, tx *Tx) error) error {
	undoMark, eventMark := len(tx.undo), len(tx.events)
	outerComponent, outerOp := tx.component, tx.op
	tx.component, tx.op = component, op
	defer func() { tx.component, tx.op = outerComponent, outerOp }()
	if err := run(ctx, tx, fn); err != nil {
		tx.rollback(undoMark)
		tx.events = tx.events[:eventMark]
		return err
	}
	return nil
}

func run(ctx context.Context, tx *Tx, fn func(ctx context.Context, tx *Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s.%s: %v", ErrPanic, tx.component, tx.op, r)
		}
	}()
	return fn(ctx, tx)
}

func (t *Tx) rollback(mark int) {
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

func (c *Chain) commit(ctx context.Context, tx *Tx) {
	if len(tx.events) == 0 {
		return
	}
	c.block++
	for i := range tx.events {
		c.seq++
		e := &tx.events[i]
		e.ID = ids.NewAt(tx.now)
		e.Sequence = c.seq
		e.Block = c.block
		e.At = tx.now
	}
	b := events.Batch{
		Block:       c.block,
		Operation:   tx.component + "." + tx.op,
		CommittedAt: tx.now,
		Events:      tx.events,
	}
	if err := events.Seal(c.lastHash, &b); err != nil {
		c.log.WithError(err).WithField("block", b.Block).Error("seal batch")
	} else {
		c.lastHash = b.Hash
	}
	obs.SetHeight(c.block)

	if err := c.sink.Publish(context.WithoutCancel(ctx), b); err != nil {
		obs.SinkFailed("chain")
		c.log.WithError(err).WithFields(logrus.Fields{
			"block":     b.Block,
			"operation": b.Operation,
		}).Error("publish committed batch")
	}
}

// View runs a read-only fn against committed state at the current block time.
// Inside an atomic unit it reads the unit's state without locking.
func (c *Chain) View(ctx context.Context, fn func(now time.Time) error) error {
	if tx, ok := c.joined(ctx); ok {
		return fn(tx.now)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now().UTC()
	if now.Before(c.lastNow) {
		now = c.lastNow
	}
	return fn(now)
}

// Height returns the number of committed blocks and events.
func (c *Chain) Height() (block, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, c.seq
}

// Head returns the hash of the last committed batch.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Clock exposes the chain's time source.
func (c *Chain) Clock() clock.Clock { return c.clock }
