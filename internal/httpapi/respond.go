package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fhayvy/Nexcredis/internal/access"
	"github.com/fhayvy/Nexcredis/internal/auth"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/sentinel"
	"github.com/fhayvy/Nexcredis/internal/units"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	payload := map[string]any{
		"error": msg,
		"kind":  kind,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// statusFor maps a ledger error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrInvalidAmount), errors.Is(err, sentinel.ErrInvalidArgument), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrInsufficientBalance),
		errors.Is(err, sentinel.ErrInsufficientStake),
		errors.Is(err, sentinel.ErrInvalidState),
		errors.Is(err, sentinel.ErrDuplicatePending),
		errors.Is(err, sentinel.ErrAlreadyWithdrawn):
		return http.StatusConflict
	case errors.Is(err, sentinel.ErrTooEarly):
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("request failed")
		writeError(w, r, code, "internal", "internal error")
		return
	}
	kind := sentinel.Kind(err)
	if errors.Is(err, errBadRequest) {
		kind = "bad_request"
	}
	writeError(w, r, code, kind, err.Error())
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("%v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return badRequest("unexpected data after JSON body")
		}
		return badRequest("%v", err)
	}
	return nil
}

// caller returns the authenticated account of the request.
func caller(r *http.Request) access.Account {
	acct, _ := auth.AccountFromContext(r.Context())
	return access.Account(acct)
}

func accountParam(r *http.Request, name string) (access.Account, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		return "", badRequest("%s is required", name)
	}
	return access.Account(v), nil
}

func idParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return v, nil
}

// parseAmount accepts a decimal string ("12.5") at the given precision.
func parseAmount(field, raw string, decimals int) (units.Amount, error) {
	a, err := units.Parse(raw, decimals)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

// optionalAmount treats an empty string as zero.
func optionalAmount(field, raw string, decimals int) (units.Amount, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return parseAmount(field, raw, decimals)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("limit must be an integer")
	}
	if val < min || val > max {
		return 0, badRequest("limit must be between %d and %d", min, max)
	}
	return val, nil
}

// durationArg is a request duration given either as a Go duration string
// ("720h") or as whole seconds (31536000 or "31536000").
type durationArg string

func (d *durationArg) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = durationArg(s)
		return nil
	}
	if string(data) == "null" {
		*d = ""
		return nil
	}
	*d = durationArg(data)
	return nil
}

func parseDuration(field string, arg durationArg) (time.Duration, error) {
	raw := strings.TrimSpace(string(arg))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseUint(raw, 10, 63); err == nil {
		if secs > uint64(math.MaxInt64/int64(time.Second)) {
			return 0, badRequest("%s is too large", field)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, badRequest("%s must be a non-negative duration", field)
	}
	return d, nil
}

// amountView renders base units next to their decimal form.
type amountView struct {
	Base    units.Amount `json:"base_units"`
	Decimal string       `json:"amount"`
}

func tokenAmount(a units.Amount) amountView {
	return amountView{Base: a, Decimal: units.Format(a, units.TokenDecimals)}
}

func nativeAmount(a units.Amount) amountView {
	return amountView{Base: a, Decimal: units.Format(a, units.NativeDecimals)}
}
