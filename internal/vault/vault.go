// Package vault holds native currency for a single beneficiary until a release
// time.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/bank"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Component names vaults in events and metrics.
const Component = "vault"

// Event kinds.
const (
	EventCreated   = "VaultCreated"
	EventWithdrawn = "VaultWithdrawn"
)

// DefaultLock and DefaultDeposit mirror the reference deployment: one hour and
// 0.01 of the native currency.
const DefaultLock = time.Hour

var DefaultDeposit = units.MustParse("0.01", units.NativeDecimals)

// EscrowPrefix starts the bank account of every vault. Callers cannot hold
// accounts with this prefix.
const EscrowPrefix = "vault:"

// Vault is a TimeLockVault. Its escrow lives in the native bank under Account().
type Vault struct {
	chain *chain.Chain
	bank  *bank.Bank

	handle    string
	owner     access.Account
	releaseAt time.Time
	createdAt time.Time
	balance   units.Amount
	withdrawn bool
}

// create debits deposit from owner into the vault escrow inside tx.
func create(ctx context.Context, tx *chain.Tx, c *chain.Chain, nb *bank.Bank, handle string, owner access.Account, releaseAt time.Time, deposit units.Amount) (*Vault, error) {
	if !owner.Valid() {
		return nil, fmt.Errorf("%w: empty owner", sentinel.ErrInvalidArgument)
	}
	if !releaseAt.After(tx.Now()) {
		return nil, fmt.Errorf("%w: release time %s is not in the future", sentinel.ErrInvalidAmount, releaseAt.Format(time.RFC3339))
	}
	if deposit.IsZero() {
		return nil, fmt.Errorf("%w: initial deposit must be positive", sentinel.ErrInvalidAmount)
	}
	v := &Vault{
		chain:     c,
		bank:      nb,
		handle:    handle,
		owner:     owner,
		releaseAt: releaseAt.UTC(),
		createdAt: tx.Now(),
		balance:   deposit,
	}
	if err := nb.Transfer(ctx, owner, v.Account(), deposit); err != nil {
		return nil, err
	}
	tx.Emit(events.Event{
		Component: Component,
		Kind:      EventCreated,
		Actor:     string(owner),
		Accounts:  []string{string(owner), string(v.Account())},
		Amount:    uint64(deposit),
		Ref:       handle,
		Attrs:     map[string]string{"release_at": v.releaseAt.Format(time.RFC3339)},
	})
	return v, nil
}

// Handle identifies the vault.
func (v *Vault) Handle() string { return v.handle }

// Account is the vault's escrow account in the native bank.
func (v *Vault) Account() access.Account { return access.Account(EscrowPrefix + v.handle) }

// Withdraw pays the whole balance to the owner once the release time is reached.
func (v *Vault) Withdraw(ctx context.Context, caller access.Account) (units.Amount, error) {
	var paid units.Amount
	err := v.chain.Atomic(ctx, Component, "withdraw", func(ctx context.Context, tx *chain.Tx) error {
		if caller != v.owner {
			return fmt.Errorf("%w: only the owner can withdraw from %s", sentinel.ErrUnauthorized, v.handle)
		}
		if v.withdrawn {
			return fmt.Errorf("%w: %s", sentinel.ErrAlreadyWithdrawn, v.handle)
		}
		if tx.Now().Before(v.releaseAt) {
			return fmt.Errorf("%w: %s unlocks at %s", sentinel.ErrTooEarly, v.handle, v.releaseAt.Format(time.RFC3339))
		}
		amount := v.balance
		if err := v.bank.Transfer(ctx, v.Account(), v.owner, amount); err != nil {
			return err
		}
		v.withdrawn = true
		v.balance = 0
		tx.OnRollback(func() {
			v.withdrawn = false
			v.balance = amount
		})
		tx.Emit(events.Event{
			Kind:     EventWithdrawn,
			Actor:    string(caller),
			Accounts: []string{string(v.owner)},
			Amount:   uint64(amount),
			Ref:      v.handle,
		})
		paid = amount
		return nil
	})
	return paid, err
}

// TimeRemaining is the time left until release, zero once reached.
func (v *Vault) TimeRemaining(ctx context.Context) (time.Duration, error) {
	var d time.Duration
	err := v.chain.View(ctx, func(now time.Time) error {
		if now.Before(v.releaseAt) {
			d = v.releaseAt.Sub(now)
		}
		return nil
	})
	return d, err
}

// Description is the vault's status surface.
type Description struct {
	Handle      string         `json:"handle"`
	Account     access.Account `json:"account"`
	Owner       access.Account `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	ReleaseAt   time.Time      `json:"release_at"`
	Balance     units.Amount   `json:"balance"`
	Withdrawn   bool           `json:"withdrawn"`
	CanWithdraw bool           `json:"can_withdraw"`
	Remaining   time.Duration  `json:"remaining_ns"`
}

func (v *Vault) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := v.chain.View(ctx, func(now time.Time) error {
		d = Description{
			Handle:      v.handle,
			Account:     v.Account(),
			Owner:       v.owner,
			CreatedAt:   v.createdAt,
			ReleaseAt:   v.releaseAt,
			Balance:     v.balance,
			Withdrawn:   v.withdrawn,
			CanWithdraw: !v.withdrawn && !now.Before(v.releaseAt),
		}
		if now.Before(v.releaseAt) {
			d.Remaining = v.releaseAt.Sub(now)
		}
		return nil
	})
	return d, err
}
