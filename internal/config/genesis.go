package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/network"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// GenesisFile is the YAML form of a genesis document. Amounts are decimal
// strings in whole units ("0.01", "1000000").
type GenesisFile struct {
	Deployer string `yaml:"deployer"`
	Reward   struct {
		FeeCollector   string `yaml:"fee_collector"`
		InitialSupply  string `yaml:"initial_supply"`
		MaxSupply      string `yaml:"max_supply"`
		RewardRateBps  uint64 `yaml:"reward_rate_bps"`
		TransferFeeBps uint64 `yaml:"transfer_fee_bps"`
	} `yaml:"reward"`
	Certification struct {
		Account          string `yaml:"account"`
		FeeAccount       string `yaml:"fee_account"`
		CertificationFee string `yaml:"certification_fee"`
		RenewalFee       string `yaml:"renewal_fee"`
		AwardOnCertify   *bool  `yaml:"award_on_certify"`
	} `yaml:"certification"`
	Platform struct {
		Account         string  `yaml:"account"`
		RevenueAccount  string  `yaml:"revenue_account"`
		IssueCredential *bool   `yaml:"issue_credential"`
		CompletionAward *string `yaml:"completion_award"`
	} `yaml:"platform"`
	Native []AllocationFile `yaml:"native"`
	Tokens []AllocationFile `yaml:"tokens"`
}

type AllocationFile struct {
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// LoadGenesis reads path; an empty path yields the default genesis of deployer.
func LoadGenesis(path, deployer string) (network.Genesis, error) {
	if path == "" {
		return network.DefaultGenesis(access.Account(deployer)), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return network.Genesis{}, fmt.Errorf("config: read genesis: %w", err)
	}
	return ParseGenesis(raw, deployer)
}

// ParseGenesis decodes a YAML genesis document over the defaults. Unknown keys
// are rejected.
func ParseGenesis(raw []byte, deployer string) (network.Genesis, error) {
	var f GenesisFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return network.Genesis{}, fmt.Errorf("config: parse genesis: %w", err)
	}
	if f.Deployer != "" {
		deployer = f.Deployer
	}
	g := network.DefaultGenesis(access.Account(deployer))

	var errs []error
	amount := func(dst *units.Amount, s string, decimals int, field string) {
		if s == "" {
			return
		}
		v, err := units.Parse(s, decimals)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = v
	}
	account := func(dst *access.Account, s string) {
		if s != "" {
			*dst = access.Account(s)
		}
	}

	account(&g.Reward.FeeCollector, f.Reward.FeeCollector)
	amount(&g.Reward.InitialSupply, f.Reward.InitialSupply, units.TokenDecimals, "reward.initial_supply")
	amount(&g.Reward.MaxSupply, f.Reward.MaxSupply, units.TokenDecimals, "reward.max_supply")
	if f.Reward.RewardRateBps != 0 {
		g.Reward.RewardRateBps = f.Reward.RewardRateBps
	}
	g.Reward.TransferFeeBps = f.Reward.TransferFeeBps

	account(&g.Certification.Account, f.Certification.Account)
	account(&g.Certification.FeeAccount, f.Certification.FeeAccount)
	amount(&g.Certification.CertificationFee, f.Certification.CertificationFee, units.TokenDecimals, "certification.certification_fee")
	amount(&g.Certification.RenewalFee, f.Certification.RenewalFee, units.TokenDecimals, "certification.renewal_fee")
	if f.Certification.AwardOnCertify != nil {
		g.Certification.AwardOnCertify = *f.Certification.AwardOnCertify
	}

	account(&g.Platform.Account, f.Platform.Account)
	account(&g.Platform.RevenueAccount, f.Platform.RevenueAccount)
	if f.Platform.IssueCredential != nil {
		g.Platform.IssueCredential = *f.Platform.IssueCredential
	}
	if f.Platform.CompletionAward != nil {
		g.Platform.CompletionAward = *f.Platform.CompletionAward
	}

	if f.Native != nil {
		g.Native = nil
	}
	for i, al := range f.Native {
		var v units.Amount
		amount(&v, al.Amount, units.NativeDecimals, fmt.Sprintf("native[%d].amount", i))
		g.Native = append(g.Native, network.Allocation{Account: access.Account(al.Account), Amount: v})
	}
	for i, al := range f.Tokens {
		var v units.Amount
		amount(&v, al.Amount, units.TokenDecimals, fmt.Sprintf("tokens[%d].amount", i))
		g.Tokens = append(g.Tokens, network.Allocation{Account: access.Account(al.Account), Amount: v})
	}

	if len(errs) > 0 {
		return network.Genesis{}, fmt.Errorf("config: genesis: %w", errors.Join(errs...))
	}
	if err := g.Validate(); err != nil {
		return network.Genesis{}, err
	}
	return g, nil
}
