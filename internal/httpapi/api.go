// Package httpapi exposes a deployed network over JSON/HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/auth"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/network"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/stream"
)

// ReadyCheck pings the journal database when one is configured.
type ReadyCheck struct {
	DB *sql.DB
}

func (rc ReadyCheck) Check(ctx context.Context) error {
	if rc.DB == nil {
		return nil
	}
	return rc.DB.PingContext(ctx)
}

// Options configures the API.
type Options struct {
	Version        string
	Ready          ReadyCheck
	Signer         *auth.Signer
	TokenTTL       time.Duration
	DevTokens      bool
	History        *events.Recorder
	Stream         *stream.Stream
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies lists addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
	MaxBodyBytes   int64
}

// API is the HTTP layer over one network.
type API struct {
	net     *network.Network
	opts    Options
	router  chi.Router
	limiter *ipLimiter
}

// New builds the router. net must be deployed.
func New(net *network.Network, opts Options) *API {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}
	a := &API{
		net:     net,
		opts:    opts,
		limiter: newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst, parseTrustedProxies(opts.TrustedProxies)),
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(a.opts.CORSOrigins), a.limiter.Middleware, MaxBodyBytes(a.opts.MaxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/info", a.Info)
		v1.Post("/auth/token", a.issueToken)

		v1.Group(func(p chi.Router) {
			p.Use(a.withAuth)

			p.Get("/describe", a.describe)
			p.With(RequireRole(OperatorRole)).Get("/conservation", a.conservation)

			p.Route("/reward", a.rewardRoutes)
			p.Route("/credentials", a.credentialRoutes)
			p.Route("/certification", a.certificationRoutes)
			p.Route("/modules", a.moduleRoutes)
			p.Route("/vaults", a.vaultRoutes)
			p.Route("/bank", a.bankRoutes)

			p.Get("/events", a.listEvents)
			p.Get("/events/stream", a.Stream)
			p.Get("/events/ws", a.WebSocket)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.limiter.Stop()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "nexcredd",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	block, seq := a.net.Chain.Height()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "nexcredd",
		"time":     a.net.Chain.Clock().Now().Format(time.RFC3339),
		"version":  a.opts.Version,
		"height":   block,
		"sequence": seq,
		"head":     a.net.Chain.Head(),
	})
}

func (a *API) describe(w http.ResponseWriter, r *http.Request) {
	st, err := a.net.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) conservation(w http.ResponseWriter, r *http.Request) {
	if err := a.net.Conservation(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
