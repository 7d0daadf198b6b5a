package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/units"
	"github.com/fhayvy/Nexcredis/internal/vault"
)

func (a *API) vaultRoutes(r chi.Router) {
	r.Get("/", a.vaultList)
	r.Post("/", a.vaultCreate)
	r.Get("/{handle}", a.vaultGet)
	r.Post("/{handle}/withdraw", a.vaultWithdraw)
}

type vaultCreateRequest struct {
	// ReleaseAt wins over Lock when both are set.
	ReleaseAt *time.Time  `json:"release_at,omitempty"`
	Lock      durationArg `json:"lock,omitempty"`
	Deposit   string      `json:"deposit,omitempty"`
}

func (a *API) vaultCreate(w http.ResponseWriter, r *http.Request) {
	var req vaultCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	lock, err := parseDuration("lock", req.Lock)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if lock == 0 {
		lock = vault.DefaultLock
	}
	releaseAt := a.net.Chain.Clock().Now().Add(lock)
	if req.ReleaseAt != nil {
		releaseAt = req.ReleaseAt.UTC()
	}
	deposit := vault.DefaultDeposit
	if strings.TrimSpace(req.Deposit) != "" {
		if deposit, err = parseAmount("deposit", req.Deposit, units.NativeDecimals); err != nil {
			handleError(w, r, err)
			return
		}
	}
	v, err := a.net.Vaults.Create(r.Context(), caller(r), releaseAt, deposit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	d, err := v.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/vaults/"+v.Handle())
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) vaultList(w http.ResponseWriter, r *http.Request) {
	owner := access.Account(strings.TrimSpace(r.URL.Query().Get("owner")))
	list, err := a.net.Vaults.List(r.Context(), owner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	items := make([]vault.Description, 0, len(list))
	for _, v := range list {
		d, err := v.Describe(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		items = append(items, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) vaultGet(w http.ResponseWriter, r *http.Request) {
	v, err := a.net.Vaults.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	d, err := v.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) vaultWithdraw(w http.ResponseWriter, r *http.Request) {
	v, err := a.net.Vaults.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	amt, err := v.Withdraw(r.Context(), caller(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": v.Handle(), "withdrawn": nativeAmount(amt)})
}
