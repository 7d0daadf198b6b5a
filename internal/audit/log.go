package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fhayvy/Nexcredis/internal/auth"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the audit request id from context if present.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and account context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestID(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if acct, ok := auth.AccountFromContext(ctx); ok {
		entry["account"] = acct
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.Logger().WithFields(entry).Info("audit")
	return nil
}

// Sink writes one audit line per committed ledger event.
type Sink struct{}

// Publish implements events.Sink.
func (Sink) Publish(ctx context.Context, b events.Batch) error {
	var errs []error
	for _, ev := range b.Events {
		fields := map[string]any{
			"id":        ev.ID,
			"sequence":  ev.Sequence,
			"block":     ev.Block,
			"component": ev.Component,
			"actor":     ev.Actor,
			"accounts":  ev.Accounts,
			"amount":    ev.Amount,
			"batch":     b.Hash,
		}
		if ev.Ref != "" {
			fields["ref"] = ev.Ref
		}
		for k, v := range ev.Attrs {
			fields["attr."+k] = v
		}
		if err := LogEvent(ctx, ev.Kind, fields); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
