// Package reward implements the SKILL utility token: mint, transfer, burn,
// stake with a time-proportional reward, and achievement awards.
package reward

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

// Component names the ledger in events and metrics.
const Component = "reward"

const (
	bpsDenominator = 10_000
	secondsPerYear = 31_536_000

	// DefaultRewardRateBps is the staking APY in basis points.
	DefaultRewardRateBps = 1000
)

// Event kinds.
const (
	EventMinted      = "Minted"
	EventTransferred = "Transferred"
	EventBurned      = "Burned"
	EventStaked      = "Staked"
	EventUnstaked    = "Unstaked"
	EventAwarded     = "Awarded"
)

// Config is the deployment configuration of a Ledger.
type Config struct {
	Name          string
	Symbol        string
	FeeCollector  access.Account
	InitialSupply units.Amount
	// MaxSupply caps minted minus burned; zero means uncapped.
	MaxSupply      units.Amount
	RewardRateBps  uint64
	TransferFeeBps uint64
}

func (c *Config) normalize() error {
	if c.Name == "" {
		c.Name = "SkillToken"
	}
	if c.Symbol == "" {
		c.Symbol = "SKILL"
	}
	if c.RewardRateBps == 0 {
		c.RewardRateBps = DefaultRewardRateBps
	}
	if !c.FeeCollector.Valid() {
		return fmt.Errorf("%w: fee collector is required", sentinel.ErrInvalidArgument)
	}
	if c.TransferFeeBps >= bpsDenominator {
		return fmt.Errorf("%w: transfer fee %d bps", sentinel.ErrInvalidAmount, c.TransferFeeBps)
	}
	if c.MaxSupply != 0 && c.InitialSupply > c.MaxSupply {
		return fmt.Errorf("%w: initial supply above max supply", sentinel.ErrInvalidAmount)
	}
	return nil
}

// StakePosition is an account's locked tokens.
type StakePosition struct {
	Staked units.Amount `json:"staked"`
	Since  time.Time    `json:"since"`
}

// Ledger is the RewardLedger registry.
type Ledger struct {
	chain *chain.Chain
	roles *access.Roles
	cfg   Config

	balances    map[access.Account]units.Amount
	stakes      map[access.Account]StakePosition
	minted      units.Amount
	burned      units.Amount
	totalStaked units.Amount
}

// New deploys a ledger with deployer as Admin and the initial supply minted to it.
func New(ctx context.Context, c *chain.Chain, deployer access.Account, cfg Config) (*Ledger, error) {
	if !deployer.Valid() {
		return nil, fmt.Errorf("%w: deployer is required", sentinel.ErrInvalidArgument)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	l := &Ledger{
		chain:    c,
		roles:    access.NewRoles(Component, deployer, access.PlatformRole),
		cfg:      cfg,
		balances: make(map[access.Account]units.Amount),
		stakes:   make(map[access.Account]StakePosition),
	}
	if cfg.InitialSupply.IsZero() {
		return l, nil
	}
	err := c.Atomic(ctx, Component, "deploy", func(ctx context.Context, tx *chain.Tx) error {
		return l.mint(tx, deployer, deployer, cfg.InitialSupply, "initial_supply")
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Mint creates amount tokens for to. The caller must hold PlatformRole or Admin.
func (l *Ledger) Mint(ctx context.Context, caller, to access.Account, amount units.Amount, reason string) error {
	return l.chain.Atomic(ctx, Component, "mint", func(ctx context.Context, tx *chain.Tx) error {
		if err := l.roles.Require(caller, access.PlatformRole, access.Admin); err != nil {
			return err
		}
		return l.mint(tx, caller, to, amount, reason)
	})
}

// AwardTokens mints the table amount of kind times multiplier to to and returns
// it. Same authorization as Mint.
func (l *Ledger) AwardTokens(ctx context.Context, caller, to access.Account, kind string, multiplier uint64) (units.Amount, error) {
	var awarded units.Amount
	err := l.chain.Atomic(ctx, Component, "award", func(ctx context.Context, tx *chain.Tx) error {
		if err := l.roles.Require(caller, access.PlatformRole, access.Admin); err != nil {
			return err
		}
		base, err := AchievementReward(kind)
		if err != nil {
			return err
		}
		if multiplier == 0 {
			return fmt.Errorf("%w: multiplier must be positive", sentinel.ErrInvalidAmount)
		}
		amount, err := units.MulDivFloor(uint64(base), multiplier, 1, 1)
		if err != nil {
			return err
		}
		if err := l.mint(tx, caller, to, amount, kind); err != nil {
			return err
		}
		tx.Emit(events.Event{
			Kind:     EventAwarded,
			Actor:    string(caller),
			Accounts: []string{string(to)},
			Amount:   uint64(amount),
			Ref:      kind,
			Attrs:    map[string]string{"multiplier": strconv.FormatUint(multiplier, 10)},
		})
		awarded = amount
		return nil
	})
	return awarded, err
}

// Transfer moves amount from caller to to. When a transfer fee is configured the
// sender pays it on top, to the fee collector.
func (l *Ledger) Transfer(ctx context.Context, caller, to access.Account, amount units.Amount) error {
	return l.chain.Atomic(ctx, Component, "transfer", func(ctx context.Context, tx *chain.Tx) error {
		if !caller.Valid() || !to.Valid() {
			return fmt.Errorf("%w: empty account", sentinel.ErrInvalidArgument)
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: transfer of zero", sentinel.ErrInvalidAmount)
		}
		fee, err := l.fee(caller, to, amount)
		if err != nil {
			return err
		}
		total, err := amount.Add(fee)
		if err != nil {
			return err
		}
		have := l.balances[caller]
		if have < total {
			return fmt.Errorf("%w: %s holds %d, needs %d", sentinel.ErrInsufficientBalance, caller, have, total)
		}
		l.setBalance(tx, caller, have-total)
		if err := l.credit(tx, to, amount); err != nil {
			return err
		}
		if fee > 0 {
			if err := l.credit(tx, l.cfg.FeeCollector, fee); err != nil {
				return err
			}
		}
		e := events.Event{
			Kind:     EventTransferred,
			Actor:    string(caller),
			Accounts: []string{string(caller), string(to)},
			Amount:   uint64(amount),
		}
		if fee > 0 {
			e.Attrs = map[string]string{"fee": strconv.FormatUint(uint64(fee), 10)}
		}
		tx.Emit(e)
		return nil
	})
}

// Burn destroys amount of caller's free balance.
func (l *Ledger) Burn(ctx context.Context, caller access.Account, amount units.Amount) error {
	return l.chain.Atomic(ctx, Component, "burn", func(ctx context.Context, tx *chain.Tx) error {
		if amount.IsZero() {
			return fmt.Errorf("%w: burn of zero", sentinel.ErrInvalidAmount)
		}
		have := l.balances[caller]
		if have < amount {
			return fmt.Errorf("%w: %s holds %d, burns %d", sentinel.ErrInsufficientBalance, caller, have, amount)
		}
		burned, err := l.burned.Add(amount)
		if err != nil {
			return err
		}
		l.setBalance(tx, caller, have-amount)
		l.setBurned(tx, burned)
		tx.Emit(events.Event{
			Kind:     EventBurned,
			Actor:    string(caller),
			Accounts: []string{string(caller)},
			Amount:   uint64(amount),
		})
		return nil
	})
}

// Stake locks amount of caller's free balance. Topping up restarts the reward
// period of the whole position.
func (l *Ledger) Stake(ctx context.Context, caller access.Account, amount units.Amount) error {
	return l.chain.Atomic(ctx, Component, "stake", func(ctx context.Context, tx *chain.Tx) error {
		if amount.IsZero() {
			return fmt.Errorf("%w: stake of zero", sentinel.ErrInvalidAmount)
		}
		have := l.balances[caller]
		if have < amount {
			return fmt.Errorf("%w: %s holds %d, stakes %d", sentinel.ErrInsufficientBalance, caller, have, amount)
		}
		pos := l.stakes[caller]
		staked, err := pos.Staked.Add(amount)
		if err != nil {
			return err
		}
		total, err := l.totalStaked.Add(amount)
		if err != nil {
			return err
		}
		l.setBalance(tx, caller, have-amount)
		l.setStake(tx, caller, StakePosition{Staked: staked, Since: tx.Now()})
		l.setTotalStaked(tx, total)
		tx.Emit(events.Event{
			Kind:     EventStaked,
			Actor:    string(caller),
			Accounts: []string{string(caller)},
			Amount:   uint64(amount),
		})
		return nil
	})
}

// Unstake releases amount of caller's stake and mints the reward accrued on it.
// The position keeps its start time when partially unstaked.
func (l *Ledger) Unstake(ctx context.Context, caller access.Account, amount units.Amount) (units.Amount, error) {
	var reward units.Amount
	err := l.chain.Atomic(ctx, Component, "unstake", func(ctx context.Context, tx *chain.Tx) error {
		if amount.IsZero() {
			return fmt.Errorf("%w: unstake of zero", sentinel.ErrInvalidAmount)
		}
		pos := l.stakes[caller]
		if pos.Staked < amount {
			return fmt.Errorf("%w: %s staked %d, unstakes %d", sentinel.ErrInsufficientStake, caller, pos.Staked, amount)
		}
		r, err := l.accrued(amount, pos.Since, tx.Now())
		if err != nil {
			return err
		}
		r = l.headroom(r)

		rest := StakePosition{Staked: pos.Staked - amount, Since: pos.Since}
		l.setStake(tx, caller, rest)
		l.setTotalStaked(tx, l.totalStaked-amount)
		if err := l.credit(tx, caller, amount); err != nil {
			return err
		}
		if r > 0 {
			if err := l.mint(tx, caller, caller, r, "staking_reward"); err != nil {
				return err
			}
		}
		tx.Emit(events.Event{
			Kind:     EventUnstaked,
			Actor:    string(caller),
			Accounts: []string{string(caller)},
			Amount:   uint64(amount),
			Attrs:    map[string]string{"reward": strconv.FormatUint(uint64(r), 10)},
		})
		reward = r
		return nil
	})
	return reward, err
}

// GrantRole assigns Admin or PlatformRole. Admin only.
func (l *Ledger) GrantRole(ctx context.Context, caller access.Account, role access.RoleKind, acct access.Account) error {
	return l.chain.Atomic(ctx, Component, "grant_role", func(ctx context.Context, tx *chain.Tx) error {
		return l.roles.Grant(tx, caller, role, acct)
	})
}

// RevokeRole removes Admin or PlatformRole. Admin only.
func (l *Ledger) RevokeRole(ctx context.Context, caller access.Account, role access.RoleKind, acct access.Account) error {
	return l.chain.Atomic(ctx, Component, "revoke_role", func(ctx context.Context, tx *chain.Tx) error {
		return l.roles.Revoke(tx, caller, role, acct)
	})
}

// HasRole reports whether acct holds role on the ledger.
func (l *Ledger) HasRole(ctx context.Context, role access.RoleKind, acct access.Account) (bool, error) {
	var ok bool
	err := l.chain.View(ctx, func(time.Time) error {
		ok = l.roles.Has(role, acct)
		return nil
	})
	return ok, err
}

// BalanceOf returns acct's free balance.
func (l *Ledger) BalanceOf(ctx context.Context, acct access.Account) (units.Amount, error) {
	var out units.Amount
	err := l.chain.View(ctx, func(time.Time) error {
		out = l.balances[acct]
		return nil
	})
	return out, err
}

// StakeOf returns acct's staking position.
func (l *Ledger) StakeOf(ctx context.Context, acct access.Account) (StakePosition, error) {
	var out StakePosition
	err := l.chain.View(ctx, func(time.Time) error {
		out = l.stakes[acct]
		return nil
	})
	return out, err
}

// PendingReward is the reward unstaking acct's whole position would mint now.
func (l *Ledger) PendingReward(ctx context.Context, acct access.Account) (units.Amount, error) {
	var out units.Amount
	err := l.chain.View(ctx, func(now time.Time) error {
		pos := l.stakes[acct]
		r, err := l.accrued(pos.Staked, pos.Since, now)
		if err != nil {
			return err
		}
		out = l.headroom(r)
		return nil
	})
	return out, err
}

// TotalSupply is minted minus burned, staked tokens included.
func (l *Ledger) TotalSupply(ctx context.Context) (units.Amount, error) {
	var out units.Amount
	err := l.chain.View(ctx, func(time.Time) error {
		out = l.minted - l.burned
		return nil
	})
	return out, err
}

// TotalStaked is the sum of all stake positions.
func (l *Ledger) TotalStaked(ctx context.Context) (units.Amount, error) {
	var out units.Amount
	err := l.chain.View(ctx, func(time.Time) error {
		out = l.totalStaked
		return nil
	})
	return out, err
}

// Description is the ledger's status surface.
type Description struct {
	Name           string         `json:"name"`
	Symbol         string         `json:"symbol"`
	Decimals       int            `json:"decimals"`
	TotalSupply    units.Amount   `json:"total_supply"`
	TotalMinted    units.Amount   `json:"total_minted"`
	TotalBurned    units.Amount   `json:"total_burned"`
	TotalStaked    units.Amount   `json:"total_staked"`
	MaxSupply      units.Amount   `json:"max_supply,omitempty"`
	FeeCollector   access.Account `json:"fee_collector"`
	RewardRateBps  uint64         `json:"reward_rate_bps"`
	TransferFeeBps uint64         `json:"transfer_fee_bps"`
	Holders        int            `json:"holders"`
}

// Describe returns the ledger's status.
func (l *Ledger) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := l.chain.View(ctx, func(time.Time) error {
		d = Description{
			Name:           l.cfg.Name,
			Symbol:         l.cfg.Symbol,
			Decimals:       units.TokenDecimals,
			TotalSupply:    l.minted - l.burned,
			TotalMinted:    l.minted,
			TotalBurned:    l.burned,
			TotalStaked:    l.totalStaked,
			MaxSupply:      l.cfg.MaxSupply,
			FeeCollector:   l.cfg.FeeCollector,
			RewardRateBps:  l.cfg.RewardRateBps,
			TransferFeeBps: l.cfg.TransferFeeBps,
			Holders:        len(l.balances),
		}
		return nil
	})
	return d, err
}

// Holding is one account's free and staked tokens.
type Holding struct {
	Account access.Account `json:"account"`
	Free    units.Amount   `json:"free"`
	Staked  units.Amount   `json:"staked"`
}

// Holdings lists every account with free or staked tokens, ordered by account.
func (l *Ledger) Holdings(ctx context.Context) ([]Holding, error) {
	var out []Holding
	err := l.chain.View(ctx, func(time.Time) error {
		seen := make(map[access.Account]bool, len(l.balances)+len(l.stakes))
		for a := range l.balances {
			seen[a] = true
		}
		for a := range l.stakes {
			seen[a] = true
		}
		for a := range seen {
			out = append(out, Holding{Account: a, Free: l.balances[a], Staked: l.stakes[a].Staked})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, err
}

// Conservation reports an error unless free plus staked balances equal minted
// minus burned, and the staked total matches the positions.
func (l *Ledger) Conservation(ctx context.Context) error {
	return l.chain.View(ctx, func(time.Time) error {
		var free, staked units.Amount
		var err error
		for _, v := range l.balances {
			if free, err = free.Add(v); err != nil {
				return err
			}
		}
		for _, p := range l.stakes {
			if staked, err = staked.Add(p.Staked); err != nil {
				return err
			}
		}
		if staked != l.totalStaked {
			return fmt.Errorf("reward: positions sum to %d, total staked is %d", staked, l.totalStaked)
		}
		sum, err := free.Add(staked)
		if err != nil {
			return err
		}
		if l.burned > l.minted || sum != l.minted-l.burned {
			return fmt.Errorf("reward: balances sum to %d, minted %d burned %d", sum, l.minted, l.burned)
		}
		return nil
	})
}

func (l *Ledger) mint(tx *chain.Tx, actor, to access.Account, amount units.Amount, reason string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: empty account", sentinel.ErrInvalidArgument)
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: mint of zero", sentinel.ErrInvalidAmount)
	}
	minted, err := l.minted.Add(amount)
	if err != nil {
		return err
	}
	if l.cfg.MaxSupply != 0 && minted-l.burned > l.cfg.MaxSupply {
		return fmt.Errorf("%w: mint of %d exceeds max supply %d", sentinel.ErrInvalidAmount, amount, l.cfg.MaxSupply)
	}
	if err := l.credit(tx, to, amount); err != nil {
		return err
	}
	l.setMinted(tx, minted)
	tx.Emit(events.Event{
		Component: Component,
		Kind:      EventMinted,
		Actor:     string(actor),
		Accounts:  []string{string(to)},
		Amount:    uint64(amount),
		Ref:       reason,
	})
	return nil
}

// accrued is floor(amount * elapsed seconds * rate / (10000 * seconds per year)).
func (l *Ledger) accrued(amount units.Amount, since, now time.Time) (units.Amount, error) {
	if amount.IsZero() || !now.After(since) {
		return 0, nil
	}
	elapsed := uint64(now.Sub(since) / time.Second)
	return units.MulDivFloor(uint64(amount), elapsed, l.cfg.RewardRateBps, bpsDenominator*secondsPerYear)
}

// headroom clips a staking reward to what the max supply still allows.
func (l *Ledger) headroom(r units.Amount) units.Amount {
	if l.cfg.MaxSupply == 0 {
		return r
	}
	outstanding := l.minted - l.burned
	if outstanding >= l.cfg.MaxSupply {
		return 0
	}
	if left := l.cfg.MaxSupply - outstanding; r > left {
		return left
	}
	return r
}

func (l *Ledger) fee(from, to access.Account, amount units.Amount) (units.Amount, error) {
	if l.cfg.TransferFeeBps == 0 || from == l.cfg.FeeCollector || to == l.cfg.FeeCollector {
		return 0, nil
	}
	return units.MulDivFloor(uint64(amount), l.cfg.TransferFeeBps, 1, bpsDenominator)
}

func (l *Ledger) credit(tx *chain.Tx, acct access.Account, amount units.Amount) error {
	v, err := l.balances[acct].Add(amount)
	if err != nil {
		return err
	}
	l.setBalance(tx, acct, v)
	return nil
}

func (l *Ledger) setBalance(tx *chain.Tx, acct access.Account, v units.Amount) {
	prev, had := l.balances[acct]
	if v == 0 {
		delete(l.balances, acct)
	} else {
		l.balances[acct] = v
	}
	tx.OnRollback(func() {
		if had {
			l.balances[acct] = prev
		} else {
			delete(l.balances, acct)
		}
	})
}

func (l *Ledger) setStake(tx *chain.Tx, acct access.Account, p StakePosition) {
	prev, had := l.stakes[acct]
	if p.Staked == 0 {
		delete(l.stakes, acct)
	} else {
		l.stakes[acct] = p
	}
	tx.OnRollback(func() {
		if had {
			l.stakes[acct] = prev
		} else {
			delete(l.stakes, acct)
		}
	})
}

func (l *Ledger) setMinted(tx *chain.Tx, v units.Amount) {
	prev := l.minted
	l.minted = v
	tx.OnRollback(func() { l.minted = prev })
}

func (l *Ledger) setBurned(tx *chain.Tx, v units.Amount) {
	prev := l.burned
	l.burned = v
	tx.OnRollback(func() { l.burned = prev })
}

func (l *Ledger) setTotalStaked(tx *chain.Tx, v units.Amount) {
	prev := l.totalStaked
	l.totalStaked = v
	tx.OnRollback(func() { l.totalStaked = prev })
}
