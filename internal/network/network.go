// Package network deploys and wires the registries that share one chain.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/bank"
	"github.com/fhayvy/Nexcredis/internal/certification"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/credential"
	"github.com/fhayvy/Nexcredis/internal/learning"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

// Network is one deployment.
type Network struct {
	Genesis   Genesis
	Chain     *chain.Chain
	Bank      *bank.Bank
	Ledger    *reward.Ledger
	Registry  *credential.Registry
	Authority *certification.Authority
	Platform  *learning.Platform
	Vaults    *vault.Directory
}

// Deploy builds every registry from g and grants the capability roles the
// authority and platform need, as ordinary calls by the deployer.
func Deploy(ctx context.Context, clk clock.Clock, g Genesis, opts ...chain.Option) (*Network, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	c := chain.New(clk, opts...)
	n := &Network{Genesis: g, Chain: c}

	var err error
	n.Bank = bank.New(c, g.Deployer)
	n.Ledger, err = reward.New(ctx, c, g.Deployer, reward.Config{
		FeeCollector:   g.Reward.FeeCollector,
		InitialSupply:  g.Reward.InitialSupply,
		MaxSupply:      g.Reward.MaxSupply,
		RewardRateBps:  g.Reward.RewardRateBps,
		TransferFeeBps: g.Reward.TransferFeeBps,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy reward ledger: %w", err)
	}
	n.Registry, err = credential.New(ctx, c, g.Deployer)
	if err != nil {
		return nil, fmt.Errorf("deploy credential registry: %w", err)
	}
	n.Authority, err = certification.New(c, g.Deployer, n.Ledger, n.Registry, certification.Config{
		Account:          g.Certification.Account,
		FeeAccount:       g.Certification.FeeAccount,
		CertificationFee: g.Certification.CertificationFee,
		RenewalFee:       g.Certification.RenewalFee,
		AwardOnCertify:   g.Certification.AwardOnCertify,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy certification authority: %w", err)
	}
	n.Platform, err = learning.New(c, g.Deployer, n.Bank, n.Ledger, n.Registry, learning.Config{
		Account:         g.Platform.Account,
		RevenueAccount:  g.Platform.RevenueAccount,
		IssueCredential: g.Platform.IssueCredential,
		CompletionAward: g.Platform.CompletionAward,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy module platform: %w", err)
	}
	n.Vaults = vault.NewDirectory(c, n.Bank)

	if err := n.grantCapabilities(ctx); err != nil {
		return nil, err
	}
	for _, al := range g.Native {
		if err := n.Bank.Credit(ctx, g.Deployer, al.Account, al.Amount); err != nil {
			return nil, fmt.Errorf("native allocation to %s: %w", al.Account, err)
		}
	}
	for _, al := range g.Tokens {
		if err := n.Ledger.Transfer(ctx, g.Deployer, al.Account, al.Amount); err != nil {
			return nil, fmt.Errorf("token allocation to %s: %w", al.Account, err)
		}
	}
	return n, nil
}

func (n *Network) grantCapabilities(ctx context.Context) error {
	g := n.Genesis
	steps := []struct {
		name string
		run  func() error
	}{
		{"authority issuer", func() error { return n.Registry.GrantIssuer(ctx, g.Deployer, g.Certification.Account) }},
		{"authority platform role", func() error {
			if !g.Certification.AwardOnCertify {
				return nil
			}
			return n.Ledger.GrantRole(ctx, g.Deployer, access.PlatformRole, g.Certification.Account)
		}},
		{"platform issuer", func() error {
			if !g.Platform.IssueCredential {
				return nil
			}
			return n.Registry.GrantIssuer(ctx, g.Deployer, g.Platform.Account)
		}},
		{"platform role", func() error {
			if g.Platform.CompletionAward == "" {
				return nil
			}
			return n.Ledger.GrantRole(ctx, g.Deployer, access.PlatformRole, g.Platform.Account)
		}},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return fmt.Errorf("grant %s: %w", s.name, err)
		}
	}
	return nil
}

// Conservation checks the supply invariants of both books.
func (n *Network) Conservation(ctx context.Context) error {
	return errors.Join(n.Ledger.Conservation(ctx), n.Bank.Conservation(ctx))
}

// Status aggregates every registry's status surface.
type Status struct {
	Height        uint64                    `json:"height"`
	Events        uint64                    `json:"events"`
	Head          string                    `json:"head"`
	Reward        reward.Description        `json:"reward"`
	Credential    credential.Description    `json:"credential"`
	Certification certification.Description `json:"certification"`
	Platform      learning.Description      `json:"platform"`
	Vaults        []vault.Description       `json:"vaults"`
	NativeSupply  uint64                    `json:"native_supply"`
}

// Describe collects the status of the whole network.
func (n *Network) Describe(ctx context.Context) (Status, error) {
	var (
		s   Status
		err error
	)
	s.Height, s.Events = n.Chain.Height()
	s.Head = n.Chain.Head()
	if s.Reward, err = n.Ledger.Describe(ctx); err != nil {
		return s, err
	}
	if s.Credential, err = n.Registry.Describe(ctx); err != nil {
		return s, err
	}
	if s.Certification, err = n.Authority.Describe(ctx); err != nil {
		return s, err
	}
	if s.Platform, err = n.Platform.Describe(ctx); err != nil {
		return s, err
	}
	vaults, err := n.Vaults.List(ctx, "")
	if err != nil {
		return s, err
	}
	for _, v := range vaults {
		d, err := v.Describe(ctx)
		if err != nil {
			return s, err
		}
		s.Vaults = append(s.Vaults, d)
	}
	supply, err := n.Bank.Supply(ctx)
	if err != nil {
		return s, err
	}
	s.NativeSupply = uint64(supply)
	return s, nil
}
