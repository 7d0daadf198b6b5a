// Package bank keeps the native currency book: balances that pay for modules and
// fund time-locked vaults.
package bank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Component names the bank in events and metrics.
const Component = "bank"

// Event kinds.
const (
	EventCredited    = "NativeCredited"
	EventTransferred = "NativeTransferred"
)

// Bank is the native currency book of a network.
type Bank struct {
	chain    *chain.Chain
	roles    *access.Roles
	balances map[access.Account]units.Amount
	supply   units.Amount
}

// New creates an empty book administered by deployer.
func New(c *chain.Chain, deployer access.Account) *Bank {
	return &Bank{
		chain:    c,
		roles:    access.NewRoles(Component, deployer),
		balances: make(map[access.Account]units.Amount),
	}
}

// Credit creates amount of native currency in to's balance. Admin only.
func (b *Bank) Credit(ctx context.Context, caller, to access.Account, amount units.Amount) error {
	return b.chain.Atomic(ctx, Component, "credit", func(ctx context.Context, tx *chain.Tx) error {
		if err := b.roles.Require(caller, access.Admin); err != nil {
			return err
		}
		if !to.Valid() {
			return fmt.Errorf("%w: empty account", sentinel.ErrInvalidArgument)
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: credit of zero", sentinel.ErrInvalidAmount)
		}
		supply, err := b.supply.Add(amount)
		if err != nil {
			return err
		}
		bal, err := b.balances[to].Add(amount)
		if err != nil {
			return err
		}
		b.setSupply(tx, supply)
		b.setBalance(tx, to, bal)
		tx.Emit(events.Event{
			Kind:     EventCredited,
			Actor:    string(caller),
			Accounts: []string{string(to)},
			Amount:   uint64(amount),
		})
		return nil
	})
}

// Transfer moves amount from from to to.
func (b *Bank) Transfer(ctx context.Context, from, to access.Account, amount units.Amount) error {
	return b.chain.Atomic(ctx, Component, "transfer", func(ctx context.Context, tx *chain.Tx) error {
		if !from.Valid() || !to.Valid() {
			return fmt.Errorf("%w: empty account", sentinel.ErrInvalidArgument)
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: transfer of zero", sentinel.ErrInvalidAmount)
		}
		have := b.balances[from]
		if have < amount {
			return fmt.Errorf("%w: %s holds %d, needs %d", sentinel.ErrInsufficientBalance, from, have, amount)
		}
		if from != to {
			credited, err := b.balances[to].Add(amount)
			if err != nil {
				return err
			}
			b.setBalance(tx, from, have-amount)
			b.setBalance(tx, to, credited)
		}
		tx.Emit(events.Event{
			Kind:     EventTransferred,
			Actor:    string(from),
			Accounts: []string{string(from), string(to)},
			Amount:   uint64(amount),
		})
		return nil
	})
}

// Balance returns acct's native balance.
func (b *Bank) Balance(ctx context.Context, acct access.Account) (units.Amount, error) {
	var out units.Amount
	err := b.chain.View(ctx, func(_ time.Time) error {
		out = b.balances[acct]
		return nil
	})
	return out, err
}

// Supply returns the native currency created so far.
func (b *Bank) Supply(ctx context.Context) (units.Amount, error) {
	var out units.Amount
	err := b.chain.View(ctx, func(_ time.Time) error {
		out = b.supply
		return nil
	})
	return out, err
}

// Holding is one non-zero balance.
type Holding struct {
	Account access.Account `json:"account"`
	Balance units.Amount   `json:"balance"`
}

// Holdings lists every non-zero balance ordered by account.
func (b *Bank) Holdings(ctx context.Context) ([]Holding, error) {
	var out []Holding
	err := b.chain.View(ctx, func(_ time.Time) error {
		for a, v := range b.balances {
			out = append(out, Holding{Account: a, Balance: v})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, err
}

// Conservation reports an error unless the balances add up to the supply.
func (b *Bank) Conservation(ctx context.Context) error {
	return b.chain.View(ctx, func(_ time.Time) error {
		var sum units.Amount
		for _, v := range b.balances {
			var err error
			if sum, err = sum.Add(v); err != nil {
				return err
			}
		}
		if sum != b.supply {
			return fmt.Errorf("bank: balances sum to %d, supply is %d", sum, b.supply)
		}
		return nil
	})
}

// GrantAdmin adds an administrator. Admin only.
func (b *Bank) GrantAdmin(ctx context.Context, caller, acct access.Account) error {
	return b.chain.Atomic(ctx, Component, "grant_admin", func(ctx context.Context, tx *chain.Tx) error {
		return b.roles.Grant(tx, caller, access.Admin, acct)
	})
}

// RevokeAdmin removes an administrator. Admin only.
func (b *Bank) RevokeAdmin(ctx context.Context, caller, acct access.Account) error {
	return b.chain.Atomic(ctx, Component, "revoke_admin", func(ctx context.Context, tx *chain.Tx) error {
		return b.roles.Revoke(tx, caller, access.Admin, acct)
	})
}

func (b *Bank) setBalance(tx *chain.Tx, acct access.Account, v units.Amount) {
	prev, had := b.balances[acct]
	if v == 0 {
		delete(b.balances, acct)
	} else {
		b.balances[acct] = v
	}
	tx.OnRollback(func() {
		if had {
			b.balances[acct] = prev
		} else {
			delete(b.balances, acct)
		}
	})
}

func (b *Bank) setSupply(tx *chain.Tx, v units.Amount) {
	prev := b.supply
	b.supply = v
	tx.OnRollback(func() { b.supply = prev })
}
