package reward

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/units"
)

var actors = []access.Account{"deployer", "alice", "bob", "treasury"}

// TestConservationHolds drives random operation sequences and checks that free
// plus staked balances always equal minted minus burned.
func TestConservationHolds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("free + staked == minted - burned", prop.ForAll(
		func(ops []uint8, amounts []uint32) bool {
			clk := clock.NewManual(genesis)
			c := chain.New(clk)
			ctx := context.Background()
			l, err := New(ctx, c, "deployer", Config{
				FeeCollector:   "treasury",
				InitialSupply:  units.Whole(1000, units.TokenDecimals),
				MaxSupply:      units.Whole(5000, units.TokenDecimals),
				TransferFeeBps: 25,
			})
			if err != nil {
				return false
			}
			for i, op := range ops {
				if i >= len(amounts) {
					break
				}
				amt := units.Amount(amounts[i]) * 1000
				who := actors[int(op>>3)%len(actors)]
				other := actors[int(op>>5)%len(actors)]
				switch op % 8 {
				case 0:
					_ = l.Mint(ctx, "deployer", who, amt, "prop")
				case 1:
					_ = l.Transfer(ctx, who, other, amt)
				case 2:
					_ = l.Stake(ctx, who, amt)
				case 3:
					_, _ = l.Unstake(ctx, who, amt)
				case 4:
					_ = l.Burn(ctx, who, amt)
				case 5:
					_, _ = l.AwardTokens(ctx, "deployer", who, PeerReview, uint64(op%3))
				case 6:
					clk.Advance(time.Duration(amounts[i]) * time.Second)
				case 7:
					_ = l.Mint(ctx, who, other, amt, "unauthorized")
				}
				if l.Conservation(ctx) != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt32()),
	))

	properties.TestingRun(t)
}
