package network

import (
	"fmt"
	"strings"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

// Genesis describes a deployment.
type Genesis struct {
	Deployer      access.Account
	Reward        RewardGenesis
	Certification CertificationGenesis
	Platform      PlatformGenesis
	// Native credits native currency at deployment.
	Native []Allocation
	// Tokens transfers reward tokens from the deployer at deployment.
	Tokens []Allocation
}

type RewardGenesis struct {
	FeeCollector   access.Account
	InitialSupply  units.Amount
	MaxSupply      units.Amount
	RewardRateBps  uint64
	TransferFeeBps uint64
}

type CertificationGenesis struct {
	Account          access.Account
	FeeAccount       access.Account
	CertificationFee units.Amount
	RenewalFee       units.Amount
	AwardOnCertify   bool
}

type PlatformGenesis struct {
	Account         access.Account
	RevenueAccount  access.Account
	IssueCredential bool
	CompletionAward string
}

// Allocation is an amount assigned to an account at deployment.
type Allocation struct {
	Account access.Account
	Amount  units.Amount
}

// DefaultGenesis is the reference deployment with deployer holding every
// administrative role.
func DefaultGenesis(deployer access.Account) Genesis {
	return Genesis{
		Deployer: deployer,
		Reward: RewardGenesis{
			FeeCollector:  "treasury",
			InitialSupply: units.Whole(1_000_000, units.TokenDecimals),
			MaxSupply:     units.Whole(100_000_000, units.TokenDecimals),
			RewardRateBps: reward.DefaultRewardRateBps,
		},
		Certification: CertificationGenesis{
			Account:          "certification-authority",
			FeeAccount:       "treasury",
			CertificationFee: units.Whole(10, units.TokenDecimals),
			RenewalFee:       units.Whole(5, units.TokenDecimals),
			AwardOnCertify:   true,
		},
		Platform: PlatformGenesis{
			Account:         "module-platform",
			RevenueAccount:  "revenue",
			IssueCredential: true,
			CompletionAward: reward.CourseCompletion,
		},
		Native: []Allocation{{Account: deployer, Amount: units.Whole(100, units.NativeDecimals)}},
	}
}

// Validate checks the document before anything is deployed.
func (g Genesis) Validate() error {
	var problems []string
	if !g.Deployer.Valid() {
		problems = append(problems, "deployer is required")
	}
	for _, a := range []access.Account{g.Reward.FeeCollector, g.Certification.Account, g.Certification.FeeAccount, g.Platform.Account, g.Platform.RevenueAccount} {
		if !a.Valid() {
			problems = append(problems, "system accounts must not be empty")
			break
		}
		if strings.HasPrefix(string(a), vault.EscrowPrefix) {
			problems = append(problems, fmt.Sprintf("account %q uses the reserved %q prefix", a, vault.EscrowPrefix))
		}
	}
	if g.Certification.Account == g.Platform.Account && g.Platform.Account != "" {
		problems = append(problems, "authority and platform accounts must differ")
	}
	for _, al := range append(append([]Allocation(nil), g.Native...), g.Tokens...) {
		if !al.Account.Valid() || al.Amount.IsZero() {
			problems = append(problems, fmt.Sprintf("allocation %q of %d is invalid", al.Account, al.Amount))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: genesis: %s", sentinel.ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}
