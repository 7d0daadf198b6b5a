// Package invariant periodically re-checks the supply invariants of a running network.
package invariant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fhayvy/Nexcredis/internal/network"
	"github.com/fhayvy/Nexcredis/internal/obs"
)

// Check is one named invariant.
type Check struct {
	Book string
	Fn   func(ctx context.Context) error
}

// Auditor runs conservation checks and exports supply gauges.
type Auditor struct {
	net    *network.Network
	checks []Check
	log    logrus.FieldLogger

	mu       sync.Mutex
	runs     int
	failures int
	lastErr  error
}

type Option func(*Auditor)

// WithCheck adds an invariant next to the built-in conservation checks.
func WithCheck(book string, fn func(ctx context.Context) error) Option {
	return func(a *Auditor) { a.checks = append(a.checks, Check{Book: book, Fn: fn}) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Auditor) { a.log = l }
}

func New(n *network.Network, opts ...Option) *Auditor {
	a := &Auditor{
		net: n,
		log: obs.Logger().WithField("component", "auditor"),
		checks: []Check{
			{Book: "reward", Fn: n.Ledger.Conservation},
			{Book: "native", Fn: n.Bank.Conservation},
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Check runs every invariant once. Violations are counted and logged; the
// joined error is returned.
func (a *Auditor) Check(ctx context.Context) error {
	var errs []error
	for _, c := range a.checks {
		if err := c.Fn(ctx); err != nil {
			obs.InvariantViolated(c.Book)
			a.log.WithError(err).WithField("book", c.Book).Error("invariant violated")
			errs = append(errs, fmt.Errorf("%s: %w", c.Book, err))
		}
	}
	if err := a.exportSupply(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	a.mu.Lock()
	a.runs++
	if err != nil {
		a.failures++
	}
	a.lastErr = err
	a.mu.Unlock()
	return err
}

func (a *Auditor) exportSupply(ctx context.Context) error {
	d, err := a.net.Ledger.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe reward: %w", err)
	}
	obs.SetSupply("reward", "total", uint64(d.TotalSupply))
	obs.SetSupply("reward", "minted", uint64(d.TotalMinted))
	obs.SetSupply("reward", "burned", uint64(d.TotalBurned))
	obs.SetSupply("reward", "staked", uint64(d.TotalStaked))

	native, err := a.net.Bank.Supply(ctx)
	if err != nil {
		return fmt.Errorf("native supply: %w", err)
	}
	obs.SetSupply("native", "total", uint64(native))
	return nil
}

// Stats reports how many audits ran, how many failed, and the last result.
func (a *Auditor) Stats() (runs, failures int, last error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs, a.failures, a.lastErr
}

// Run schedules Check on a cron spec ("@every 1m", "*/5 * * * *") until ctx
// is done. Overlapping runs are skipped.
func (a *Auditor) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { _ = a.Check(ctx) }); err != nil {
		return fmt.Errorf("auditor schedule %q: %w", schedule, err)
	}
	a.log.WithField("schedule", schedule).Info("auditor started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("auditor stopped")
	return nil
}
