package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	// Identity
	FieldRequestID    = "request_id"
	FieldConsultantID = "consultant_id"
	FieldHolderID     = "holder_id"
	FieldTraceID      = "trace_id"

	// Components
	FieldComponent = "component"
	FieldProvider  = "provider"

	// Leases
	FieldJobName   = "job_name"
	FieldExpiresAt = "expires_at"
	FieldBusy      = "busy"

	// Provider calls
	FieldOperation  = "operation"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldHTTPStatus = "http_status"
	FieldUpstreamID = "upstream_id"

	// Workflow
	FieldStatus     = "status"
	FieldFromStatus = "from_status"
	FieldToStatus   = "to_status"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount   = "count"
	FieldChecked = "checked"
	FieldFailed  = "failed"

	// Network
	FieldAddress = "address"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	traceIDKey   contextKey = "logger_trace_id"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a provisioning request id to the context for logging
func WithRequestID(ctx context.Context, requestID int64) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID adds an HTTP trace id to the context for logging
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(int64); ok && requestID != 0 {
		fields = append(fields, FieldRequestID, requestID)
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		fields = append(fields, FieldTraceID, traceID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger for dependency injection.
//
//	poller := reconcile.NewPoller(..., logger.ComponentLogger("reconcile"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
