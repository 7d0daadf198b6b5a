// Command smoke deploys an in-process network, prints its status, and runs the
// basic interaction checks against it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/certification"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/config"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/network"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/units"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

func main() {
	var (
		genesis  = flag.String("genesis", os.Getenv("NEXC_GENESIS"), "genesis YAML (default genesis when empty)")
		deployer = flag.String("deployer", "deployer", "deployer account")
	)
	flag.Parse()

	g, err := config.LoadGenesis(*genesis, *deployer)
	if err != nil {
		obs.Logger().WithError(err).Fatal("load genesis")
	}
	failed, err := run(context.Background(), clock.System{}, g, os.Stdout, obs.Logger())
	if err != nil {
		obs.Logger().WithError(err).Fatal("smoke")
	}
	if failed > 0 {
		obs.Logger().WithField("failed", failed).Error("smoke checks failed")
		os.Exit(1)
	}
}

// run deploys g and performs the checks. It returns how many checks failed;
// err is set only when the network itself cannot be deployed or described.
func run(ctx context.Context, clk clock.Clock, g network.Genesis, out io.Writer, log logrus.FieldLogger) (int, error) {
	rec := events.NewRecorder()
	n, err := network.Deploy(ctx, clk, g, chain.WithSink(rec))
	if err != nil {
		return 0, fmt.Errorf("deploy: %w", err)
	}
	me := g.Deployer

	if _, err := n.Vaults.Create(ctx, me, clk.Now().Add(vault.DefaultLock), vault.DefaultDeposit); err != nil {
		return 0, fmt.Errorf("create vault: %w", err)
	}
	if err := printStatus(ctx, n, out); err != nil {
		return 0, err
	}

	failed := 0
	check := func(name string, fn func() (logrus.Fields, error)) {
		fields, err := fn()
		entry := log.WithField("check", name).WithFields(fields)
		if err != nil {
			failed++
			entry.WithError(err).Error("check failed")
			return
		}
		entry.Info("check passed")
	}

	check("award_tokens", func() (logrus.Fields, error) {
		amt, err := n.Ledger.AwardTokens(ctx, me, me, "course_completion", 1)
		if err != nil {
			return nil, err
		}
		bal, err := n.Ledger.BalanceOf(ctx, me)
		return logrus.Fields{"awarded": units.Format(amt, units.TokenDecimals), "balance": units.Format(bal, units.TokenDecimals)}, err
	})

	check("instructor_certification", func() (logrus.Fields, error) {
		err := n.Authority.Apply(ctx, me, "John Doe", "Blockchain Development",
			[]string{"PhD Computer Science", "10 years experience"}, "QmTestHash123", g.Certification.CertificationFee)
		if err != nil {
			return nil, err
		}
		id, err := n.Authority.Certify(ctx, me, me, certification.Basic, 0)
		return logrus.Fields{"credential": id}, err
	})

	check("module_launch", func() (logrus.Fields, error) {
		if err := n.Platform.AssignInstructorRole(ctx, me, me); err != nil {
			return nil, err
		}
		id, err := n.Platform.LaunchModule(ctx, me, "Introduction to Smart Contracts",
			"Learn the basics of smart contract development",
			units.MustParse("0.01", units.NativeDecimals), units.Whole(10, units.TokenDecimals))
		return logrus.Fields{"module": id}, err
	})

	check("staking", func() (logrus.Fields, error) {
		bal, err := n.Ledger.BalanceOf(ctx, me)
		if err != nil {
			return nil, err
		}
		if bal == 0 {
			return logrus.Fields{"skipped": "no tokens to stake"}, nil
		}
		if err := n.Ledger.Stake(ctx, me, bal/2); err != nil {
			return nil, err
		}
		pos, err := n.Ledger.StakeOf(ctx, me)
		return logrus.Fields{"staked": units.Format(pos.Staked, units.TokenDecimals)}, err
	})

	check("conservation", func() (logrus.Fields, error) {
		height, seq := n.Chain.Height()
		return logrus.Fields{"blocks": height, "events": seq, "recorded": len(rec.Events())}, n.Conservation(ctx)
	})

	return failed, nil
}

func printStatus(ctx context.Context, n *network.Network, out io.Writer) error {
	s, err := n.Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status   network.Status `json:"status"`
		Deployer access.Account `json:"deployer"`
		At       time.Time      `json:"at"`
	}{s, n.Genesis.Deployer, n.Chain.Clock().Now()})
}
