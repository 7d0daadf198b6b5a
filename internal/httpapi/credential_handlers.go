package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
)

func (a *API) credentialRoutes(r chi.Router) {
	r.Get("/", a.credentialDescribe)
	r.Post("/", a.credentialIssue)
	r.Get("/issuers", a.credentialIssuers)
	r.Post("/issuers/grant", a.credentialGrantIssuer)
	r.Post("/issuers/revoke", a.credentialRevokeIssuer)
	r.Get("/owner/{account}", a.credentialsOf)
	r.Get("/{id}", a.credentialGet)
}

type issueRequest struct {
	Owner       string `json:"owner"`
	MetadataRef string `json:"metadata_ref"`
}

type accountRequest struct {
	Account string `json:"account"`
}

func (a *API) credentialDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := a.net.Registry.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) credentialIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	id, err := a.net.Registry.Issue(r.Context(), caller(r), access.Account(req.Owner), req.MetadataRef)
	if err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := a.net.Registry.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) credentialGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := a.net.Registry.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) credentialsOf(w http.ResponseWriter, r *http.Request) {
	owner, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	ids, err := a.net.Registry.CredentialsOf(r.Context(), owner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "credentials": ids})
}

func (a *API) credentialIssuers(w http.ResponseWriter, r *http.Request) {
	issuers, err := a.net.Registry.Issuers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issuers": issuers})
}

func (a *API) credentialGrantIssuer(w http.ResponseWriter, r *http.Request) {
	a.credentialIssuerRole(w, r, true)
}

func (a *API) credentialRevokeIssuer(w http.ResponseWriter, r *http.Request) {
	a.credentialIssuerRole(w, r, false)
}

func (a *API) credentialIssuerRole(w http.ResponseWriter, r *http.Request, grant bool) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	acct := access.Account(req.Account)
	var err error
	if grant {
		err = a.net.Registry.GrantIssuer(r.Context(), caller(r), acct)
	} else {
		err = a.net.Registry.RevokeIssuer(r.Context(), caller(r), acct)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "issuer": grant})
}
