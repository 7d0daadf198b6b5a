package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/learning"
	"github.com/fhayvy/Nexcredis/internal/units"
)

func (a *API) moduleRoutes(r chi.Router) {
	r.Get("/", a.moduleList)
	r.Post("/", a.moduleLaunch)
	r.Get("/platform", a.platformDescribe)
	r.Post("/roles/assign", a.platformAssignRole)
	r.Post("/roles/revoke", a.platformRevokeRole)
	r.Get("/enrollments/{account}", a.enrollmentsOf)
	r.Get("/{id}", a.moduleGet)
	r.Post("/{id}/enroll", a.moduleEnroll)
	r.Post("/{id}/complete", a.moduleComplete)
	r.Post("/{id}/deactivate", a.moduleDeactivate)
	r.Get("/{id}/enrollments/{account}", a.enrollmentGet)
}

type launchRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	NativeCost  string `json:"native_cost,omitempty"`
	TokenCost   string `json:"token_cost,omitempty"`
}

type completeRequest struct {
	Learner string `json:"learner"`
}

func (a *API) platformDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := a.net.Platform.Describe(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) platformAssignRole(w http.ResponseWriter, r *http.Request) {
	a.platformRole(w, r, true)
}

func (a *API) platformRevokeRole(w http.ResponseWriter, r *http.Request) {
	a.platformRole(w, r, false)
}

func (a *API) platformRole(w http.ResponseWriter, r *http.Request, assign bool) {
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
	ctx, who, acct := r.Context(), caller(r), access.Account(req.Account)
	switch {
	case role == access.InstructorRole && assign:
		err = a.net.Platform.AssignInstructorRole(ctx, who, acct)
	case role == access.InstructorRole:
		err = a.net.Platform.RevokeInstructorRole(ctx, who, acct)
	case role == access.LearnerRole && assign:
		err = a.net.Platform.AssignLearnerRole(ctx, who, acct)
	case role == access.LearnerRole:
		err = a.net.Platform.RevokeLearnerRole(ctx, who, acct)
	case role == access.Admin && assign:
		err = a.net.Platform.GrantAdmin(ctx, who, acct)
	case role == access.Admin:
		err = a.net.Platform.RevokeAdmin(ctx, who, acct)
	default:
		err = badRequest("role %s is not managed by the platform", role)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role.String(), "account": acct, "granted": assign})
}

func (a *API) moduleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	nativeCost, err := optionalAmount("native_cost", req.NativeCost, units.NativeDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	tokenCost, err := optionalAmount("token_cost", req.TokenCost, units.TokenDecimals)
	if err != nil {
		handleError(w, r, err)
		return
	}
	id, err := a.net.Platform.LaunchModule(r.Context(), caller(r), req.Title, req.Description, nativeCost, tokenCost)
	if err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.net.Platform.Module(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/modules/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) moduleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := strings.EqualFold(r.URL.Query().Get("active"), "true")
	mods, err := a.net.Platform.Modules(r.Context(), activeOnly)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if mods == nil {
		mods = []learning.Module{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mods})
}

func (a *API) moduleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.net.Platform.Module(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) moduleEnroll(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	learner := caller(r)
	if err := a.net.Platform.Enroll(r.Context(), learner, id); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeEnrollment(w, r, http.StatusCreated, id, learner)
}

func (a *API) moduleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	learner := access.Account(req.Learner)
	if _, err := a.net.Platform.CompleteModule(r.Context(), caller(r), id, learner); err != nil {
		handleError(w, r, err)
		return
	}
	a.writeEnrollment(w, r, http.StatusOK, id, learner)
}

func (a *API) moduleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.net.Platform.DeactivateModule(r.Context(), caller(r), id); err != nil {
		handleError(w, r, err)
		return
	}
	m, err := a.net.Platform.Module(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) enrollmentGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, r, err)
		return
	}
	learner, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.writeEnrollment(w, r, http.StatusOK, id, learner)
}

func (a *API) enrollmentsOf(w http.ResponseWriter, r *http.Request) {
	learner, err := accountParam(r, "account")
	if err != nil {
		handleError(w, r, err)
		return
	}
	list, err := a.net.Platform.EnrollmentsOf(r.Context(), learner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if list == nil {
		list = []learning.Enrollment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) writeEnrollment(w http.ResponseWriter, r *http.Request, code int, id uint64, learner access.Account) {
	e, err := a.net.Platform.Enrollment(r.Context(), id, learner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, code, e)
}
