package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/units"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEXC_HTTP_ADDR", "")
	env, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", env.HTTPAddr)
	assert.Equal(t, "deployer", env.Deployer)
	assert.Equal(t, time.Hour, env.TokenTTL)
	assert.Equal(t, "@every 1m", env.AuditorSchedule)
	assert.True(t, env.AuditEvents)
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NEXC_LOG_LEVEL=debug\nNEXC_KAFKA_BROKERS=a:9092, b:9092\n"), 0o600))
	t.Setenv("NEXC_LOG_LEVEL", "warn")
	t.Setenv("NEXC_KAFKA_BROKERS", "")

	env, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", env.LogLevel)

	_, err = Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	env := Env{HTTPAddr: ":1", DevTokens: true, JWTSecret: "short"}
	assert.Error(t, env.Validate())

	env = Env{HTTPAddr: ":1", DatabaseURL: "mysql://x"}
	assert.Error(t, env.Validate())

	env = Env{HTTPAddr: ":1", DatabaseURL: "sqlite:/tmp/j.db"}
	require.NoError(t, env.Validate())
	driver, dsn, err := env.Journal()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/j.db", dsn)

	env.DatabaseURL = "postgres://u@h/db"
	driver, _, _ = env.Journal()
	assert.Equal(t, "pgx", driver)

	env.KafkaBrokers = " a:1, ,b:2"
	assert.Equal(t, []string{"a:1", "b:2"}, env.Brokers())

	env.TrustedProxies = "10.0.0.0/8, 192.168.1.7"
	require.NoError(t, env.Validate())
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, env.Proxies())
	env.TrustedProxies = "10.0.0.0/8,proxy.local"
	assert.ErrorContains(t, env.Validate(), "NEXC_TRUSTED_PROXIES")
}

const genesisYAML = `
deployer: dean
reward:
  fee_collector: vault-of-fees
  initial_supply: "2500.5"
  transfer_fee_bps: 30
certification:
  certification_fee: "12.5"
  award_on_certify: false
platform:
  completion_award: ""
native:
  - account: dean
    amount: "0.01"
tokens:
  - account: alice
    amount: "10"
`

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(genesisYAML), "ignored")
	require.NoError(t, err)

	assert.Equal(t, access.Account("dean"), g.Deployer)
	assert.Equal(t, access.Account("vault-of-fees"), g.Reward.FeeCollector)
	assert.Equal(t, units.Amount(2_500_500_000), g.Reward.InitialSupply)
	assert.Equal(t, uint64(30), g.Reward.TransferFeeBps)
	assert.Equal(t, uint64(reward.DefaultRewardRateBps), g.Reward.RewardRateBps)
	assert.Equal(t, units.Amount(12_500_000), g.Certification.CertificationFee)
	assert.Equal(t, units.Whole(5, units.TokenDecimals), g.Certification.RenewalFee)
	assert.False(t, g.Certification.AwardOnCertify)
	assert.True(t, g.Platform.IssueCredential)
	assert.Empty(t, g.Platform.CompletionAward)
	require.Len(t, g.Native, 1)
	assert.Equal(t, units.Amount(10_000_000), g.Native[0].Amount)
	require.Len(t, g.Tokens, 1)
	assert.Equal(t, units.Whole(10, units.TokenDecimals), g.Tokens[0].Amount)
}

func TestParseGenesisRejectsBadInput(t *testing.T) {
	_, err := ParseGenesis([]byte("unknown_key: 1\n"), "d")
	assert.Error(t, err)

	_, err = ParseGenesis([]byte("reward:\n  initial_supply: \"1.0000001\"\n"), "d")
	assert.Error(t, err)

	_, err = ParseGenesis([]byte("native:\n  - account: \"\"\n    amount: \"1\"\n"), "d")
	assert.Error(t, err)
}

func TestLoadGenesisDefault(t *testing.T) {
	g, err := LoadGenesis("", "root")
	require.NoError(t, err)
	assert.Equal(t, access.Account("root"), g.Deployer)
	assert.Equal(t, reward.CourseCompletion, g.Platform.CompletionAward)
}
