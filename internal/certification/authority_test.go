package certification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/credential"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

var t0 = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	auth     *Authority
	ledger   *reward.Ledger
	registry *credential.Registry
	clock    *clock.Manual
	rec      *events.Recorder
}

func tokens(n uint64) units.Amount { return units.Whole(n, units.TokenDecimals) }

func newFixture(t *testing.T, award bool) fixture {
	t.Helper()
	ctx := context.Background()
	rec := events.NewRecorder()
	clk := clock.NewManual(t0)
	c := chain.New(clk, chain.WithSink(rec))

	ledger, err := reward.New(ctx, c, "deployer", reward.Config{FeeCollector: "treasury", InitialSupply: tokens(10_000)})
	require.NoError(t, err)
	registry, err := credential.New(ctx, c, "deployer")
	require.NoError(t, err)
	auth, err := New(c, "deployer", ledger, registry, Config{
		Account:          "authority",
		FeeAccount:       "cert-fees",
		CertificationFee: tokens(10),
		RenewalFee:       tokens(5),
		AwardOnCertify:   award,
	})
	require.NoError(t, err)

	require.NoError(t, registry.GrantIssuer(ctx, "deployer", "authority"))
	if award {
		require.NoError(t, ledger.GrantRole(ctx, "deployer", access.PlatformRole, "authority"))
	}
	require.NoError(t, ledger.Transfer(ctx, "deployer", "alice", tokens(100)))
	return fixture{auth: auth, ledger: ledger, registry: registry, clock: clk, rec: rec}
}

func (f fixture) balance(t *testing.T, a access.Account) units.Amount {
	t.Helper()
	v, err := f.ledger.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return v
}

func (f fixture) status(t *testing.T, a access.Account) Status {
	t.Helper()
	app, err := f.auth.Application(context.Background(), a)
	require.NoError(t, err)
	return app.Status
}

func TestNewValidates(t *testing.T) {
	c := chain.New(clock.NewManual(t0))
	ctx := context.Background()
	ledger, err := reward.New(ctx, c, "deployer", reward.Config{FeeCollector: "treasury"})
	require.NoError(t, err)
	registry, err := credential.New(ctx, c, "deployer")
	require.NoError(t, err)

	_, err = New(c, "deployer", ledger, registry, Config{Account: "a", FeeAccount: "f", RenewalFee: 1})
	assert.ErrorIs(t, err, sentinel.ErrInvalidAmount)
	_, err = New(c, "deployer", ledger, registry, Config{FeeAccount: "f", CertificationFee: 1, RenewalFee: 1})
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)
	_, err = New(c, "deployer", nil, registry, Config{Account: "a", FeeAccount: "f", CertificationFee: 1, RenewalFee: 1})
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)
}

func TestCertificationHappyPath(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Blockchain", []string{"ipfs://cv"}, "QmTestHash123", tokens(10)))
	assert.Equal(t, Pending, f.status(t, "alice"))
	assert.Equal(t, tokens(90), f.balance(t, "alice"))
	assert.Equal(t, tokens(10), f.balance(t, "cert-fees"))

	id, err := f.auth.Certify(ctx, "deployer", "alice", CertifiedInstructor, 365*day)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	app, err := f.auth.Application(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Certified, app.Status)
	assert.Equal(t, CertifiedInstructor, app.Level)
	assert.Equal(t, t0.Add(365*day), app.ExpiresAt)
	assert.Equal(t, id, app.CredentialID)
	assert.Equal(t, tokens(10), app.FeePaid)
	assert.Equal(t, "QmTestHash123", app.MetadataRef)
	assert.Equal(t, []string{"ipfs://cv"}, app.EvidenceRefs)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, access.Account("alice"), rec.Owner)
	assert.Equal(t, access.Account("authority"), rec.Issuer)

	ok, _ := f.auth.IsCertified(ctx, "alice")
	assert.True(t, ok)

	f.clock.Advance(366 * day)
	assert.Equal(t, Expired, f.status(t, "alice"))
	ok, _ = f.auth.IsCertified(ctx, "alice")
	assert.False(t, ok)

	require.NoError(t, f.auth.Renew(ctx, "alice", "alice"))
	assert.Equal(t, Pending, f.status(t, "alice"))
	assert.Equal(t, tokens(85), f.balance(t, "alice"))
	app, err = f.auth.Application(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "QmTestHash123", app.MetadataRef)

	d, err := f.auth.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens(15), d.FeesCollected)
	assert.Equal(t, 1, d.Pending)

	assert.Contains(t, f.rec.Kinds(), EventInstructorCertified)
	assert.Contains(t, f.rec.Kinds(), EventRenewalRequested)
}

func TestZeroValidityNeverExpires(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	_, err := f.auth.Certify(ctx, "deployer", "alice", Expert, 0)
	require.NoError(t, err)

	f.clock.Advance(100 * 365 * day)
	app, err := f.auth.Application(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Certified, app.Status)
	assert.True(t, app.Never())
}

func TestExpiryBoundary(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "DeFi", nil, "", tokens(10)))
	_, err := f.auth.Certify(ctx, "deployer", "alice", CertifiedInstructor, 31536000*time.Second)
	require.NoError(t, err)
	expiresAt := t0.Add(31536000 * time.Second)

	f.clock.Set(expiresAt)
	assert.Equal(t, Certified, f.status(t, "alice"))
	ok, err := f.auth.IsCertified(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(time.Second)
	assert.Equal(t, Expired, f.status(t, "alice"))
	ok, err = f.auth.IsCertified(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplicationJSON(t *testing.T) {
	pending, err := json.Marshal(Application{Applicant: "alice", Status: Pending, SubmittedAt: t0})
	require.NoError(t, err)
	assert.NotContains(t, string(pending), "expires_at")
	assert.NotContains(t, string(pending), "decided_at")
	assert.NotContains(t, string(pending), "never")
	assert.Contains(t, string(pending), `"submitted_at":"2025-09-01T09:00:00Z"`)

	never, err := json.Marshal(Application{Status: Certified, Level: Basic, DecidedAt: t0, MetadataRef: "QmX"})
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(never, &doc))
	assert.Equal(t, true, doc["never"])
	assert.Equal(t, "CERTIFIED", doc["status"])
	assert.Equal(t, "BASIC_INSTRUCTOR", doc["level"])
	assert.Equal(t, "QmX", doc["metadata_ref"])
	assert.NotContains(t, doc, "expires_at")

	dated, err := json.Marshal(Application{Status: Certified, Level: Basic, ExpiresAt: t0})
	require.NoError(t, err)
	assert.Contains(t, string(dated), `"expires_at":"2025-09-01T09:00:00Z"`)
	assert.NotContains(t, string(dated), "never")
}

func TestApplyFailures(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	err := f.auth.Apply(ctx, "alice", "", "Math", nil, "", tokens(10))
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)

	err = f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(9))
	assert.ErrorIs(t, err, sentinel.ErrInvalidAmount)

	err = f.auth.Apply(ctx, "bob", "Bob", "Math", nil, "", tokens(10))
	assert.ErrorIs(t, err, sentinel.ErrInsufficientBalance)
	_, err = f.auth.Application(ctx, "bob")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(12)))
	err = f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10))
	assert.ErrorIs(t, err, sentinel.ErrDuplicatePending)
	assert.Equal(t, tokens(88), f.balance(t, "alice"))
}

func TestRejectThenReapply(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	assert.ErrorIs(t, f.auth.Reject(ctx, "alice", "alice", "nope"), sentinel.ErrUnauthorized)
	require.NoError(t, f.auth.Reject(ctx, "deployer", "alice", "ipfs://reason"))

	app, err := f.auth.Application(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Rejected, app.Status)
	assert.Equal(t, "ipfs://reason", app.RejectionReason)
	assert.Equal(t, tokens(90), f.balance(t, "alice"))

	_, err = f.auth.Certify(ctx, "deployer", "alice", Basic, day)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	assert.ErrorIs(t, f.auth.Renew(ctx, "alice", "alice"), sentinel.ErrInvalidState)

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Physics", nil, "", tokens(10)))
	app, _ = f.auth.Application(ctx, "alice")
	assert.Equal(t, Pending, app.Status)
	assert.Equal(t, "Physics", app.Domain)
	assert.Empty(t, app.RejectionReason)
}

func TestCertifyFailures(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.auth.Certify(ctx, "deployer", "nobody", Basic, day)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	_, err = f.auth.Certify(ctx, "alice", "alice", Basic, day)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
	_, err = f.auth.Certify(ctx, "deployer", "alice", Level(42), day)
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)
}

func TestCertifyRevertsWhenIssuerRoleRevoked(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	require.NoError(t, f.registry.RevokeIssuer(ctx, "deployer", "authority"))
	before := len(f.rec.Events())

	_, err := f.auth.Certify(ctx, "deployer", "alice", Basic, day)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)

	assert.Equal(t, Pending, f.status(t, "alice"))
	d, _ := f.registry.Describe(ctx)
	assert.Zero(t, d.CurrentCredentialID)
	assert.Len(t, f.rec.Events(), before)
}

func TestCertifyAwardIsAtomic(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))

	_, err := f.auth.Certify(ctx, "deployer", "alice", Basic, day)
	require.NoError(t, err)
	assert.Equal(t, tokens(190), f.balance(t, "alice"))

	// without PlatformRole the award fails and the credential is rolled back
	require.NoError(t, f.auth.Renew(ctx, "alice", "alice"))
	require.NoError(t, f.ledger.RevokeRole(ctx, "deployer", access.PlatformRole, "authority"))
	_, err = f.auth.Certify(ctx, "deployer", "alice", Expert, day)
	require.ErrorIs(t, err, sentinel.ErrUnauthorized)

	d, _ := f.registry.Describe(ctx)
	assert.Equal(t, uint64(1), d.CurrentCredentialID)
	assert.Equal(t, Pending, f.status(t, "alice"))
}

func TestApplyAfterCertifiedIsRenewal(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	_, err := f.auth.Certify(ctx, "deployer", "alice", Associate, day)
	require.NoError(t, err)

	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", []string{"ipfs://new"}, "QmRenewal", tokens(5)))
	app, err := f.auth.Application(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Pending, app.Status)
	assert.Equal(t, uint64(1), app.Renewals)
	assert.Equal(t, Associate, app.Level)
	assert.Equal(t, "QmRenewal", app.MetadataRef)
	assert.Equal(t, tokens(85), f.balance(t, "alice"))
}

func TestAdminRenewsOnBehalfAndPays(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.auth.Apply(ctx, "alice", "Alice", "Math", nil, "", tokens(10)))
	_, err := f.auth.Certify(ctx, "deployer", "alice", Basic, day)
	require.NoError(t, err)

	assert.ErrorIs(t, f.auth.Renew(ctx, "bob", "alice"), sentinel.ErrUnauthorized)
	before := f.balance(t, "deployer")
	require.NoError(t, f.auth.Renew(ctx, "deployer", "alice"))
	assert.Equal(t, before-tokens(5), f.balance(t, "deployer"))
	assert.Equal(t, tokens(90), f.balance(t, "alice"))
}

func TestParseLevel(t *testing.T) {
	for _, l := range levels {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	got, err := ParseLevel("expert")
	require.NoError(t, err)
	assert.Equal(t, Expert, got)
	_, err = ParseLevel("GRANDMASTER")
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)
}
