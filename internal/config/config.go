// Package config loads node settings from the environment and the genesis
// document from YAML.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Env is the node configuration, read from NEXC_* variables.
type Env struct {
	HTTPAddr        string        `env:"NEXC_HTTP_ADDR,default=:8080"`
	GRPCAddr        string        `env:"NEXC_GRPC_ADDR,default=:9090"`
	LogLevel        string        `env:"NEXC_LOG_LEVEL,default=info"`
	GenesisFile     string        `env:"NEXC_GENESIS"`
	Deployer        string        `env:"NEXC_DEPLOYER,default=deployer"`
	ShutdownTimeout time.Duration `env:"NEXC_SHUTDOWN_TIMEOUT,default=10s"`

	JWTSecret string        `env:"NEXC_JWT_SECRET"`
	JWTIssuer string        `env:"NEXC_JWT_ISSUER,default=nexcredis"`
	TokenTTL  time.Duration `env:"NEXC_TOKEN_TTL,default=1h"`
	// DevTokens enables POST /v1/auth/token, which signs a token for any account.
	DevTokens bool `env:"NEXC_DEV_TOKENS,default=false"`

	RateLimitRPS   float64 `env:"NEXC_RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int     `env:"NEXC_RATE_LIMIT_BURST,default=100"`
	CORSOrigins    string  `env:"NEXC_CORS_ORIGINS"`
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is believed.
	TrustedProxies string  `env:"NEXC_TRUSTED_PROXIES"`

	// DatabaseURL selects the journal: postgres://..., or sqlite:<path>.
	DatabaseURL  string `env:"NEXC_DATABASE_URL"`
	RedisAddr    string `env:"NEXC_REDIS_ADDR"`
	RedisStream  string `env:"NEXC_REDIS_STREAM,default=nexc:events"`
	KafkaBrokers string `env:"NEXC_KAFKA_BROKERS"`
	KafkaTopic   string `env:"NEXC_KAFKA_TOPIC,default=nexc.events"`
	AuditEvents  bool   `env:"NEXC_AUDIT_EVENTS,default=true"`

	AuditorSchedule string `env:"NEXC_AUDITOR_SCHEDULE,default=@every 1m"`

	Version string `env:"NEXC_VERSION,default=dev"`
	Commit  string `env:"NEXC_COMMIT,default=unknown"`
}

// Load reads envFile into the process environment when it exists, then decodes Env.
// Variables already set win over the file.
func Load(envFile string) (Env, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Env{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	var env Env
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("config: decode environment: %w", err)
	}
	return env, env.Validate()
}

// Validate reports inconsistent settings.
func (e Env) Validate() error {
	var problems []string
	if e.HTTPAddr == "" {
		problems = append(problems, "NEXC_HTTP_ADDR is empty")
	}
	if e.DevTokens && len(e.JWTSecret) < 16 {
		problems = append(problems, "NEXC_DEV_TOKENS needs NEXC_JWT_SECRET of at least 16 bytes")
	}
	if e.RateLimitRPS < 0 || e.RateLimitBurst < 0 {
		problems = append(problems, "rate limit must not be negative")
	}
	for _, p := range e.Proxies() {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			problems = append(problems, fmt.Sprintf("NEXC_TRUSTED_PROXIES: invalid entry %q", p))
		}
	}
	if e.DatabaseURL != "" {
		if _, _, err := e.Journal(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Journal splits DatabaseURL into a database/sql driver name and DSN.
func (e Env) Journal() (driver, dsn string, err error) {
	switch u := e.DatabaseURL; {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "pgx", u, nil
	case strings.HasPrefix(u, "sqlite:"):
		return "sqlite", strings.TrimPrefix(u, "sqlite:"), nil
	default:
		return "", "", fmt.Errorf("unsupported NEXC_DATABASE_URL %q", u)
	}
}

// Brokers splits KafkaBrokers on commas.
func (e Env) Brokers() []string {
	return splitList(e.KafkaBrokers)
}

// Proxies splits TrustedProxies on commas.
func (e Env) Proxies() []string {
	return splitList(e.TrustedProxies)
}

// Origins splits CORSOrigins on commas.
func (e Env) Origins() []string {
	return splitList(e.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
