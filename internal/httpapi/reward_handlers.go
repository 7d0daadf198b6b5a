package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/reward"
	"github.com/fhayvy/Nexcredis/internal/units"
)

func (a *API) rewardRoutes(r chi.Router) {
	r.Get("/", a.rewardDescribe)
	r.Get("/holdings", a.rewardHoldings)
	r.Get("/achievements", a.rewardAchievements)
	r.Get("/balances/{account}", a.rewardBalance)
	r.Post("/mint", a.rewardMint)
	r.Post("/transfer", a.rewardTransfer)
	r.Post("/burn", a.rewardBurn)
	r.Post("/stake", a.rewardStake)
	r.Post("/unstake", a.rewardUnstake)
	r.Post("/award", a.rewardAward)
	r.Post("/roles/grant", a.rewardGrantRole)
	r.Post("/roles/revoke", a.rewardRevokeRole)
	r.Get("/roles/{role}/{account}", a.rewardHasRole)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type awardRequest struct {
	To         string `json:"to"`
	Kind       string `json:"kind"`
	Multiplier uint64 `json:"multiplier"`
}

type roleRequest struct {
	Role    string `json:"role"`
	Account string `json:"account"`
}

type balanceResponse struct {
	Account access.Account `json:"account"`
	Balance amountView     `json:"balance"`
	Staked  amountView     `json:"staked"`
	Pending amountView     `json:"pending_reward"`
	Since   any            `json:"staked_since,omitempty"`
}

func (a *API) rewardDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := a.net.Ledger.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) rewardHoldings(w http.ResponseWriter, r *http.Request) {
	h, err := a.net.Ledger.Holdings(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h})
}

func (a *API) rewardAchievements(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]amountView)
	for _, kind := range reward.Achievements() {
		amt, err := reward.AchievementReward(kind)
		if err != nil {
			handleError(w, r, err)
			return
		}
		out[kind] = tokenAmount(amt)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) rewardBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	ctx := r.Context()
	bal, err := a.net.Ledger.BalanceOf(ctx, acct)
	if err != nil {
		handleError(w, r, err)
		return
	}
	pos, err := a.net.Ledger.StakeOf(ctx, acct)
	if err != nil {
		handleError(w, r, err)
		return
	}
	pending, err := a.net.Ledger.PendingReward(ctx, acct)
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := balanceResponse{
		Account: acct,
		Balance: tokenAmount(bal),
		Staked:  tokenAmount(pos.Staked),
		Pending: tokenAmount(pending),
	}
	if !pos.Staked.IsZero() {
		resp.Since = pos.Since
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) rewardMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.net.Ledger.Mint(r.Context(), caller(r), access.Account(req.To), amt, req.Reason); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": req.To, "minted": tokenAmount(amt)})
}

func (a *API) rewardTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	from := caller(r)
	if err := a.net.Ledger.Transfer(r.Context(), from, access.Account(req.To), amt); err != nil {
		handleError(w, r, err)
		return
	}
	bal, err := a.net.Ledger.BalanceOf(r.Context(), from)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": req.To, "amount": tokenAmount(amt), "balance": tokenAmount(bal)})
}

func (a *API) rewardBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.net.Ledger.Burn(r.Context(), caller(r), amt); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"burned": tokenAmount(amt)})
}

func (a *API) rewardStake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.net.Ledger.Stake(r.Context(), caller(r), amt); err != nil {
		handleError(w, r, err)
		return
	}
	pos, err := a.net.Ledger.StakeOf(r.Context(), caller(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staked": tokenAmount(pos.Staked), "since": pos.Since})
}

func (a *API) rewardUnstake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rew, err := a.net.Ledger.Unstake(r.Context(), caller(r), amt)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unstaked": tokenAmount(amt), "reward": tokenAmount(rew)})
}

func (a *API) rewardAward(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := a.net.Ledger.AwardTokens(r.Context(), caller(r), access.Account(req.To), req.Kind, req.Multiplier)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": req.To, "kind": req.Kind, "awarded": tokenAmount(amt)})
}

func (a *API) rewardGrantRole(w http.ResponseWriter, r *http.Request) {
	a.rewardRole(w, r, true)
}

func (a *API) rewardRevokeRole(w http.ResponseWriter, r *http.Request) {
	a.rewardRole(w, r, false)
}

func (a *API) rewardRole(w http.ResponseWriter, r *http.Request, grant bool) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	acct := access.Account(req.Account)
	if grant {
		err = a.net.Ledger.GrantRole(r.Context(), caller(r), role, acct)
	} else {
		err = a.net.Ledger.RevokeRole(r.Context(), caller(r), role, acct)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role.String(), "account": acct, "granted": grant})
}

func (a *API) rewardHasRole(w http.ResponseWriter, r *http.Request) {
	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	acct, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	has, err := a.net.Ledger.HasRole(r.Context(), role, acct)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role.String(), "account": acct, "has_role": has})
}
