// Package sentinel holds the error kinds shared by every registry of the ledger.
//
// Components return these (usually wrapped with fmt.Errorf("%w: ...")) and callers
// match them with errors.Is. Each failure is detected before any state is mutated.
package sentinel

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStake   = errors.New("insufficient stake")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrTooEarly            = errors.New("too early")
	ErrAlreadyWithdrawn    = errors.New("already withdrawn")
	ErrDuplicatePending    = errors.New("duplicate pending application")
)

// Kinds lists every error kind in a stable order.
var Kinds = []error{
	ErrUnauthorized,
	ErrInvalidState,
	ErrInsufficientBalance,
	ErrInsufficientStake,
	ErrInvalidAmount,
	ErrInvalidArgument,
	ErrNotFound,
	ErrTooEarly,
	ErrAlreadyWithdrawn,
	ErrDuplicatePending,
}

var kindNames = map[error]string{
	ErrUnauthorized:        "unauthorized",
	ErrInvalidState:        "invalid_state",
	ErrInsufficientBalance: "insufficient_balance",
	ErrInsufficientStake:   "insufficient_stake",
	ErrInvalidAmount:       "invalid_amount",
	ErrInvalidArgument:     "invalid_argument",
	ErrNotFound:            "not_found",
	ErrTooEarly:            "too_early",
	ErrAlreadyWithdrawn:    "already_withdrawn",
	ErrDuplicatePending:    "duplicate_pending",
}

// Kind returns the stable name of the first error kind err wraps, "internal" for
// anything unrecognized and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return kindNames[k]
		}
	}
	return "internal"
}
