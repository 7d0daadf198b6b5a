package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *chain.Chain, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	c := chain.New(clock.NewManual(t0), chain.WithSink(rec))
	r, err := New(context.Background(), c, "deployer")
	require.NoError(t, err)
	return r, c, rec
}

func TestIssueAssignsSequentialIDs(t *testing.T) {
	r, _, rec := newRegistry(t)
	ctx := context.Background()

	id1, err := r.Issue(ctx, "deployer", "alice", "ipfs://a")
	require.NoError(t, err)
	id2, err := r.Issue(ctx, "deployer", "alice", "ipfs://b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	rec1, err := r.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Record{ID: 1, Owner: "alice", Issuer: "deployer", MetadataRef: "ipfs://a", IssuedAt: t0}, rec1)

	owned, err := r.CredentialsOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, owned)

	owner, err := r.OwnerOf(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, access.Account("alice"), owner)

	d, err := r.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AcademicCredentialToken", d.Name)
	assert.Equal(t, "ACT", d.Symbol)
	assert.Equal(t, uint64(2), d.CurrentCredentialID)
	assert.Contains(t, rec.Kinds(), EventIssued)
}

func TestFailedIssueDoesNotAdvanceCounter(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Issue(ctx, "mallory", "alice", "ipfs://x")
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
	_, err = r.Issue(ctx, "deployer", "", "ipfs://x")
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)
	_, err = r.Issue(ctx, "deployer", "alice", " ")
	assert.ErrorIs(t, err, sentinel.ErrInvalidArgument)

	id, err := r.Issue(ctx, "deployer", "alice", "ipfs://ok")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestIssueRolledBackByEnclosingUnit(t *testing.T) {
	r, c, _ := newRegistry(t)
	ctx := context.Background()

	err := c.Atomic(ctx, "caller", "op", func(ctx context.Context, tx *chain.Tx) error {
		if _, err := r.Issue(ctx, "deployer", "alice", "ipfs://a"); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	})
	require.ErrorIs(t, err, sentinel.ErrInvalidState)

	_, err = r.Get(ctx, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	owned, _ := r.CredentialsOf(ctx, "alice")
	assert.Empty(t, owned)
}

func TestGetUnknown(t *testing.T) {
	r, _, _ := newRegistry(t)
	_, err := r.Get(context.Background(), 0)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = r.Get(context.Background(), 7)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestIssuerManagement(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.GrantIssuer(ctx, "alice", "alice"), sentinel.ErrUnauthorized)
	require.NoError(t, r.GrantIssuer(ctx, "deployer", "university"))
	ok, _ := r.IsIssuer(ctx, "university")
	assert.True(t, ok)

	_, err := r.Issue(ctx, "university", "bob", "ipfs://deg")
	require.NoError(t, err)

	require.NoError(t, r.RevokeIssuer(ctx, "deployer", "university"))
	_, err = r.Issue(ctx, "university", "bob", "ipfs://deg2")
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)

	// existing records survive revocation untouched
	rec, err := r.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, access.Account("university"), rec.Issuer)

	issuers, _ := r.Issuers(ctx)
	assert.Equal(t, []access.Account{"deployer"}, issuers)

	require.NoError(t, r.GrantAdmin(ctx, "deployer", "dean"))
	require.NoError(t, r.GrantIssuer(ctx, "dean", "college"))
	require.NoError(t, r.RevokeAdmin(ctx, "deployer", "dean"))
	assert.ErrorIs(t, r.GrantIssuer(ctx, "dean", "college2"), sentinel.ErrUnauthorized)
}
