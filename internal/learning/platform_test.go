package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/bank"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/credential"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

var t0 = time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	platform *Platform
	bank     *bank.Bank
	ledger   *reward.Ledger
	registry *credential.Registry
	rec      *events.Recorder
}

func tokens(n uint64) units.Amount { return units.Whole(n, units.TokenDecimals) }
func native(s string) units.Amount { return units.MustParse(s, units.NativeDecimals) }

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	ctx := context.Background()
	rec := events.NewRecorder()
	c := chain.New(clock.NewManual(t0), chain.WithSink(rec))

	nb := bank.New(c, "deployer")
	ledger, err := reward.New(ctx, c, "deployer", reward.Config{FeeCollector: "treasury", InitialSupply: tokens(1000)})
	require.NoError(t, err)
	registry, err := credential.New(ctx, c, "deployer")
	require.NoError(t, err)

	cfg.Account = "platform"
	cfg.RevenueAccount = "revenue"
	p, err := New(c, "deployer", nb, ledger, registry, cfg)
	require.NoError(t, err)

	require.NoError(t, registry.GrantIssuer(ctx, "deployer", "platform"))
	require.NoError(t, ledger.GrantRole(ctx, "deployer", access.PlatformRole, "platform"))
	require.NoError(t, p.AssignInstructorRole(ctx, "deployer", "prof"))
	require.NoError(t, p.AssignLearnerRole(ctx, "deployer", "alice"))
	require.NoError(t, nb.Credit(ctx, "deployer", "alice", native("1")))
	require.NoError(t, ledger.Transfer(ctx, "deployer", "alice", tokens(100)))

	return fixture{platform: p, bank: nb, ledger: ledger, registry: registry, rec: rec}
}

func (f fixture) launch(t *testing.T, nativeCost, tokenCost units.Amount) uint64 {
	t.Helper()
	id, err := f.platform.LaunchModule(context.Background(), "prof", "Go 101", "intro", nativeCost, tokenCost)
	require.NoError(t, err)
	return id
}

func (f fixture) balances(t *testing.T, a access.Account) (units.Amount, units.Amount) {
	t.Helper()
	ctx := context.Background()
	n, err := f.bank.Balance(ctx, a)
	require.NoError(t, err)
	tk, err := f.ledger.BalanceOf(ctx, a)
	require.NoError(t, err)
	return n, tk
}

func TestNewRejectsUnknownAward(t *testing.T) {
	c := chain.New(clock.NewManual(t0))
	ctx := context.Background()
	nb := bank.New(c, "deployer")
	ledger, err := reward.New(ctx, c, "deployer", reward.Config{FeeCollector: "treasury"})
	require.NoError(t, err)
	registry, err := credential.New(ctx, c, "deployer")
	require.NoError(t, err)
	_, err = New(c, "deployer", nb, ledger, registry, Config{Account: "p", RevenueAccount: "r", CompletionAward: "juggling"})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestLaunchRequiresInstructor(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.platform.LaunchModule(ctx, "alice", "x", "", 0, 0)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
	_, err = f.platform.LaunchModule(ctx, "prof", " ", "", 0, 0)
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)

	id1 := f.launch(t, 0, 0)
	id2 := f.launch(t, 0, 0)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	m, err := f.platform.Module(ctx, id1)
	require.NoError(t, err)
	assert.True(t, m.Active)
	assert.Equal(t, access.Account("prof"), m.Instructor)
	assert.Equal(t, t0, m.CreatedAt)
}

func TestEnrollPaysBothLegs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := f.launch(t, native("0.25"), tokens(30))

	require.NoError(t, f.platform.Enroll(ctx, "alice", id))
	n, tk := f.balances(t, "alice")
	assert.Equal(t, native("0.75"), n)
	assert.Equal(t, tokens(70), tk)
	n, tk = f.balances(t, "revenue")
	assert.Equal(t, native("0.25"), n)
	assert.Equal(t, tokens(30), tk)

	en, err := f.platform.Enrollment(ctx, id, "alice")
	require.NoError(t, err)
	assert.False(t, en.Completed)

	err = f.platform.Enroll(ctx, "alice", id)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestDualPaymentAtomicity(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := f.launch(t, native("0.5"), tokens(101))
	before := len(f.rec.Events())

	err := f.platform.Enroll(ctx, "alice", id)
	require.ErrorIs(t, err, sentinel.ErrInsufficientBalance)

	n, tk := f.balances(t, "alice")
	assert.Equal(t, native("1"), n)
	assert.Equal(t, tokens(100), tk)
	n, _ = f.balances(t, "revenue")
	assert.Zero(t, n)

	_, err = f.platform.Enrollment(ctx, id, "alice")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	m, _ := f.platform.Module(ctx, id)
	assert.Zero(t, m.Enrollments)
	assert.Len(t, f.rec.Events(), before)
}

func TestEnrollFailures(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := f.launch(t, 0, 0)

	assert.ErrorIs(t, f.platform.Enroll(ctx, "bob", id), sentinel.ErrUnauthorized)
	assert.ErrorIs(t, f.platform.Enroll(ctx, "alice", 99), sentinel.ErrNotFound)

	require.NoError(t, f.platform.DeactivateModule(ctx, "prof", id))
	assert.ErrorIs(t, f.platform.Enroll(ctx, "alice", id), sentinel.ErrInvalidState)
}

func TestCompleteIssuesCredentialAndAward(t *testing.T) {
	f := newFixture(t, Config{IssueCredential: true, CompletionAward: reward.CourseCompletion})
	ctx := context.Background()
	id := f.launch(t, 0, tokens(10))
	require.NoError(t, f.platform.Enroll(ctx, "alice", id))

	_, err := f.platform.CompleteModule(ctx, "alice", id, "alice")
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
	_, err = f.platform.CompleteModule(ctx, "prof", id, "bob")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	credID, err := f.platform.CompleteModule(ctx, "prof", id, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), credID)

	rec, err := f.registry.Get(ctx, credID)
	require.NoError(t, err)
	assert.Equal(t, access.Account("alice"), rec.Owner)
	assert.Equal(t, access.Account("platform"), rec.Issuer)

	_, tk := f.balances(t, "alice")
	assert.Equal(t, tokens(140), tk)

	en, _ := f.platform.Enrollment(ctx, id, "alice")
	assert.True(t, en.Completed)
	assert.Equal(t, credID, en.CredentialID)

	_, err = f.platform.CompleteModule(ctx, "deployer", id, "alice")
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	d, err := f.platform.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Completions)
	assert.Equal(t, 1, d.Enrollments)
}

func TestCompleteRevertsWhenIssuerRoleRevoked(t *testing.T) {
	f := newFixture(t, Config{IssueCredential: true, CompletionAward: reward.CourseCompletion})
	ctx := context.Background()
	id := f.launch(t, 0, 0)
	require.NoError(t, f.platform.Enroll(ctx, "alice", id))
	require.NoError(t, f.registry.RevokeIssuer(ctx, "deployer", "platform"))

	_, err := f.platform.CompleteModule(ctx, "prof", id, "alice")
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)

	en, _ := f.platform.Enrollment(ctx, id, "alice")
	assert.False(t, en.Completed)
	_, tk := f.balances(t, "alice")
	assert.Equal(t, tokens(100), tk)
}

func TestCompleteAwardFailureRollsBackCredential(t *testing.T) {
	f := newFixture(t, Config{IssueCredential: true, CompletionAward: reward.CourseCompletion})
	ctx := context.Background()
	id := f.launch(t, 0, 0)
	require.NoError(t, f.platform.Enroll(ctx, "alice", id))
	require.NoError(t, f.ledger.RevokeRole(ctx, "deployer", access.PlatformRole, "platform"))

	_, err := f.platform.CompleteModule(ctx, "prof", id, "alice")
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)
	d, _ := f.registry.Describe(ctx)
	assert.Zero(t, d.CurrentCredentialID)
}

func TestDeactivateIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := f.launch(t, 0, 0)

	assert.ErrorIs(t, f.platform.DeactivateModule(ctx, "alice", id), sentinel.ErrUnauthorized)
	require.NoError(t, f.platform.DeactivateModule(ctx, "deployer", id))
	before := len(f.rec.Events())
	require.NoError(t, f.platform.DeactivateModule(ctx, "prof", id))
	assert.Len(t, f.rec.Events(), before)
	assert.ErrorIs(t, f.platform.DeactivateModule(ctx, "prof", 5), sentinel.ErrNotFound)

	active, err := f.platform.Modules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, _ := f.platform.Modules(ctx, false)
	assert.Len(t, all, 1)
}

func TestRoleRevocation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	assert.ErrorIs(t, f.platform.AssignLearnerRole(ctx, "prof", "bob"), sentinel.ErrUnauthorized)

	require.NoError(t, f.platform.RevokeInstructorRole(ctx, "deployer", "prof"))
	_, err := f.platform.LaunchModule(ctx, "prof", "x", "", 0, 0)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)

	require.NoError(t, f.platform.RevokeLearnerRole(ctx, "deployer", "alice"))
	ok, _ := f.platform.HasRole(ctx, access.LearnerRole, "alice")
	assert.False(t, ok)
}
