package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fhayvy/Nexcredis/internal/audit"
	"github.com/fhayvy/Nexcredis/internal/auth"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// OperatorRole is the node role that may read operational endpoints.
	OperatorRole = "operator"
)

// withAuth resolves the bearer token to the calling account.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !a.opts.Signer.Enabled() {
			unauthorized(w, r, "authentication is not configured")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			// browsers cannot set headers on EventSource or WebSocket requests
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
			if token == "" {
				unauthorized(w, r, err.Error())
				return
			}
		}

		claims, err := a.opts.Signer.ParseAndValidate(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		if strings.HasPrefix(claims.Account(), vault.EscrowPrefix) {
			unauthorized(w, r, "escrow accounts cannot authenticate")
			return
		}

		ctx := auth.ContextWithAccount(r.Context(), claims.Account(), claims.Roles)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits requests whose token carries the node role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.AccountFromContext(r.Context()); !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "unauthorized", "missing role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="nexcredis"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated", msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

type tokenRequest struct {
	Account string      `json:"account"`
	Roles   []string    `json:"roles,omitempty"`
	TTL     durationArg `json:"ttl,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Account   string    `json:"account"`
}

// issueToken signs a token for any account. It exists for development
// networks and is disabled unless DevTokens is set.
func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if !a.opts.DevTokens || !a.opts.Signer.Enabled() {
		writeError(w, r, http.StatusNotFound, "not_found", "token endpoint disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	acct := strings.TrimSpace(req.Account)
	if acct == "" {
		handleError(w, r, badRequest("account is required"))
		return
	}
	if strings.HasPrefix(acct, vault.EscrowPrefix) {
		handleError(w, r, badRequest("escrow accounts cannot authenticate"))
		return
	}
	ttl, err := parseDuration("ttl", req.TTL)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if ttl == 0 || ttl > a.opts.TokenTTL {
		ttl = a.opts.TokenTTL
	}
	token, exp, err := a.opts.Signer.GenerateToken(acct, req.Roles, ttl)
	if err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issue", map[string]any{"account": acct, "roles": req.Roles})
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: exp, Account: acct})
}
