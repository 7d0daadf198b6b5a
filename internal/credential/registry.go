// Package credential is the registry of non-transferable achievement records.
package credential

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

// Component names the registry in events and metrics.
const Component = "credential"

// EventIssued is emitted for every new record.
const EventIssued = "CredentialIssued"

// Record is an immutable credential.
type Record struct {
	ID          uint64         `json:"id"`
	Owner       access.Account `json:"owner"`
	Issuer      access.Account `json:"issuer"`
	MetadataRef string         `json:"metadata_ref"`
	IssuedAt    time.Time      `json:"issued_at"`
}

// Registry is the CredentialRegistry. Records are never updated, deleted or
// transferred.
type Registry struct {
	chain *chain.Chain
	roles *access.Roles

	name, symbol string
	records      []Record
	byOwner      map[access.Account][]uint64
}

// New deploys a registry. The deployer holds Admin and IssuerRole.
func New(ctx context.Context, c *chain.Chain, deployer access.Account) (*Registry, error) {
	if !deployer.Valid() {
		return nil, fmt.Errorf("%w: deployer is required", sentinel.ErrInvalidArgument)
	}
	r := &Registry{
		chain:   c,
		roles:   access.NewRoles(Component, deployer, access.IssuerRole),
		name:    "AcademicCredentialToken",
		symbol:  "ACT",
		byOwner: make(map[access.Account][]uint64),
	}
	err := c.Atomic(ctx, Component, "deploy", func(ctx context.Context, tx *chain.Tx) error {
		return r.roles.Grant(tx, deployer, access.IssuerRole, deployer)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Issue records a credential for owner and returns its id. The caller must hold
// IssuerRole. Ids start at 1 and advance only on success.
func (r *Registry) Issue(ctx context.Context, caller, owner access.Account, metadataRef string) (uint64, error) {
	var id uint64
	err := r.chain.Atomic(ctx, Component, "issue", func(ctx context.Context, tx *chain.Tx) error {
		if err := r.roles.Require(caller, access.IssuerRole); err != nil {
			return err
		}
		if !owner.Valid() {
			return fmt.Errorf("%w: empty owner", sentinel.ErrInvalidArgument)
		}
		if strings.TrimSpace(metadataRef) == "" {
			return fmt.Errorf("%w: empty metadata reference", sentinel.ErrInvalidArgument)
		}
		rec := Record{
			ID:          uint64(len(r.records)) + 1,
			Owner:       owner,
			Issuer:      caller,
			MetadataRef: metadataRef,
			IssuedAt:    tx.Now(),
		}
		r.records = append(r.records, rec)
		r.byOwner[owner] = append(r.byOwner[owner], rec.ID)
		tx.OnRollback(func() {
			r.records = r.records[:len(r.records)-1]
			ids := r.byOwner[owner]
			if len(ids) <= 1 {
				delete(r.byOwner, owner)
			} else {
				r.byOwner[owner] = ids[:len(ids)-1]
			}
		})
		tx.Emit(events.Event{
			Kind:     EventIssued,
			Actor:    string(caller),
			Accounts: []string{string(owner)},
			Ref:      strconv.FormatUint(rec.ID, 10),
			Attrs:    map[string]string{"metadata_ref": metadataRef},
		})
		id = rec.ID
		return nil
	})
	return id, err
}

// Get returns the record with id.
func (r *Registry) Get(ctx context.Context, id uint64) (Record, error) {
	var out Record
	err := r.chain.View(ctx, func(time.Time) error {
		if id == 0 || id > uint64(len(r.records)) {
			return fmt.Errorf("%w: credential %d", sentinel.ErrNotFound, id)
		}
		out = r.records[id-1]
		return nil
	})
	return out, err
}

// OwnerOf returns the holder of credential id.
func (r *Registry) OwnerOf(ctx context.Context, id uint64) (access.Account, error) {
	rec, err := r.Get(ctx, id)
	return rec.Owner, err
}

// CredentialsOf returns owner's credential ids in issuance order.
func (r *Registry) CredentialsOf(ctx context.Context, owner access.Account) ([]uint64, error) {
	var out []uint64
	err := r.chain.View(ctx, func(time.Time) error {
		out = append([]uint64(nil), r.byOwner[owner]...)
		return nil
	})
	return out, err
}

// GrantIssuer gives acct IssuerRole. Admin only.
func (r *Registry) GrantIssuer(ctx context.Context, caller, acct access.Account) error {
	return r.chain.Atomic(ctx, Component, "grant_issuer", func(ctx context.Context, tx *chain.Tx) error {
		return r.roles.Grant(tx, caller, access.IssuerRole, acct)
	})
}

// RevokeIssuer withdraws acct's IssuerRole. Admin only.
func (r *Registry) RevokeIssuer(ctx context.Context, caller, acct access.Account) error {
	return r.chain.Atomic(ctx, Component, "revoke_issuer", func(ctx context.Context, tx *chain.Tx) error {
		return r.roles.Revoke(tx, caller, access.IssuerRole, acct)
	})
}

// GrantAdmin adds an administrator. Admin only.
func (r *Registry) GrantAdmin(ctx context.Context, caller, acct access.Account) error {
	return r.chain.Atomic(ctx, Component, "grant_admin", func(ctx context.Context, tx *chain.Tx) error {
		return r.roles.Grant(tx, caller, access.Admin, acct)
	})
}

// RevokeAdmin removes an administrator. Admin only.
func (r *Registry) RevokeAdmin(ctx context.Context, caller, acct access.Account) error {
	return r.chain.Atomic(ctx, Component, "revoke_admin", func(ctx context.Context, tx *chain.Tx) error {
		return r.roles.Revoke(tx, caller, access.Admin, acct)
	})
}

// Issuers lists the current IssuerRole holders.
func (r *Registry) Issuers(ctx context.Context) ([]access.Account, error) {
	var out []access.Account
	err := r.chain.View(ctx, func(time.Time) error {
		out = r.roles.Members(access.IssuerRole)
		return nil
	})
	return out, err
}

// IsIssuer reports whether acct holds IssuerRole.
func (r *Registry) IsIssuer(ctx context.Context, acct access.Account) (bool, error) {
	var ok bool
	err := r.chain.View(ctx, func(time.Time) error {
		ok = r.roles.Has(access.IssuerRole, acct)
		return nil
	})
	return ok, err
}

// Description is the registry's status surface.
type Description struct {
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	CurrentCredentialID uint64 `json:"current_credential_id"`
	Holders             int    `json:"holders"`
}

func (r *Registry) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := r.chain.View(ctx, func(time.Time) error {
		d = Description{
			Name:                r.name,
			Symbol:              r.symbol,
			CurrentCredentialID: uint64(len(r.records)),
			Holders:             len(r.byOwner),
		}
		return nil
	})
	return d, err
}
