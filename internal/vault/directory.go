package vault

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/bank"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/ids"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Directory creates vaults and finds them by handle.
type Directory struct {
	chain  *chain.Chain
	bank   *bank.Bank
	vaults map[string]*Vault
}

func NewDirectory(c *chain.Chain, nb *bank.Bank) *Directory {
	return &Directory{chain: c, bank: nb, vaults: make(map[string]*Vault)}
}

// Create constructs a vault for owner, debiting deposit from owner's native balance.
func (d *Directory) Create(ctx context.Context, owner access.Account, releaseAt time.Time, deposit units.Amount) (*Vault, error) {
	var v *Vault
	err := d.chain.Atomic(ctx, Component, "create", func(ctx context.Context, tx *chain.Tx) error {
		handle := ids.Prefixed("vlt")
		created, err := create(ctx, tx, d.chain, d.bank, handle, owner, releaseAt, deposit)
		if err != nil {
			return err
		}
		d.vaults[handle] = created
		tx.OnRollback(func() { delete(d.vaults, handle) })
		v = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the vault with handle.
func (d *Directory) Get(ctx context.Context, handle string) (*Vault, error) {
	var v *Vault
	err := d.chain.View(ctx, func(time.Time) error {
		found, ok := d.vaults[handle]
		if !ok {
			return fmt.Errorf("%w: vault %q", sentinel.ErrNotFound, handle)
		}
		v = found
		return nil
	})
	return v, err
}

// List returns the vaults, optionally only owner's, ordered by handle.
func (d *Directory) List(ctx context.Context, owner access.Account) ([]*Vault, error) {
	var out []*Vault
	err := d.chain.View(ctx, func(time.Time) error {
		for _, v := range d.vaults {
			if owner == "" || v.owner == owner {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out, err
}
