package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/units"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

func (a *API) bankRoutes(r chi.Router) {
	r.Get("/holdings", a.bankHoldings)
	r.Get("/balance/{account}", a.bankBalance)
	r.Post("/credit", a.bankCredit)
	r.Post("/transfer", a.bankTransfer)
}

func (a *API) bankBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	bal, err := a.net.Bank.Balance(r.Context(), acct)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "balance": nativeAmount(bal)})
}

func (a *API) bankHoldings(w http.ResponseWriter, r *http.Request) {
	h, err := a.net.Bank.Holdings(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	supply, err := a.net.Bank.Supply(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h, "supply": nativeAmount(supply)})
}

func (a *API) bankCredit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.NativeDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if strings.HasPrefix(req.To, vault.EscrowPrefix) {
		handleError(w, r, badRequest("vault escrow accounts only receive deposits"))
		return
	}
	if err := a.net.Bank.Credit(r.Context(), caller(r), access.Account(req.To), amt); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": req.To, "credited": nativeAmount(amt)})
}

func (a *API) bankTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, units.NativeDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if strings.HasPrefix(req.To, vault.EscrowPrefix) {
		handleError(w, r, badRequest("vault escrow accounts only receive deposits"))
		return
	}
	from := caller(r)
	if err := a.net.Bank.Transfer(r.Context(), from, access.Account(req.To), amt); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": req.To, "amount": nativeAmount(amt)})
}
