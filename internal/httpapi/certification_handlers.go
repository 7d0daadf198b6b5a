package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/certification"
	"github.com/fhayvy/Nexcredis/internal/units"
)

func (a *API) certificationRoutes(r chi.Router) {
	r.Get("/", a.certificationDescribe)
	r.Post("/apply", a.certificationApply)
	r.Post("/certify", a.certificationCertify)
	r.Post("/reject", a.certificationReject)
	r.Post("/renew", a.certificationRenew)
	r.Get("/applications/{account}", a.certificationApplication)
}

type applyRequest struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	EvidenceRefs []string `json:"evidence_refs"`
	MetadataRef  string   `json:"metadata_ref,omitempty"`
	Fee          string   `json:"fee"`
}

type certifyRequest struct {
	Applicant string `json:"applicant"`
	Level     string `json:"level"`
	// Validity is a Go duration or whole seconds; empty or zero never expires.
	Validity durationArg `json:"validity,omitempty"`
}

type rejectRequest struct {
	Applicant string `json:"applicant"`
	ReasonRef string `json:"reason_ref"`
}

type renewRequest struct {
	Applicant string `json:"applicant,omitempty"`
}

func (a *API) certificationDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := a.net.Authority.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) certificationApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	fee, err := parseAmount("fee", req.Fee, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	applicant := caller(r)
	if err := a.net.Authority.Apply(r.Context(), applicant, req.Name, req.Domain, req.EvidenceRefs, req.MetadataRef, fee); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeApplication(w, r, http.StatusCreated, applicant)
}

func (a *API) certificationCertify(w http.ResponseWriter, r *http.Request) {
	var req certifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	level, err := certification.ParseLevel(req.Level)
	if err != nil {
		handleError(w, r, err)
		return
	}
	validity, err := parseDuration("validity", req.Validity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	applicant := access.Account(req.Applicant)
	if _, err := a.net.Authority.Certify(r.Context(), caller(r), applicant, level, validity); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeApplication(w, r, http.StatusOK, applicant)
}

func (a *API) certificationReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	applicant := access.Account(req.Applicant)
	if err := a.net.Authority.Reject(r.Context(), caller(r), applicant, req.ReasonRef); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeApplication(w, r, http.StatusOK, applicant)
}

func (a *API) certificationRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	applicant := caller(r)
	if req.Applicant != "" {
		applicant = access.Account(req.Applicant)
	}
	if err := a.net.Authority.Renew(r.Context(), caller(r), applicant); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeApplication(w, r, http.StatusOK, applicant)
}

func (a *API) certificationApplication(w http.ResponseWriter, r *http.Request) {
	acct, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.writeApplication(w, r, http.StatusOK, acct)
}

func (a *API) writeApplication(w http.ResponseWriter, r *http.Request, code int, applicant access.Account) {
	app, err := a.net.Authority.Application(r.Context(), applicant)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, code, app)
}
