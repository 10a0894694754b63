package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized key for protocol run identifiers.
	FieldRunID = "run_id"
	// FieldStep is the standardized key for protocol step labels.
	FieldStep = "step"
	// FieldReagent is the standardized key for reagent names.
	FieldReagent = "reagent"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	stepKey    contextKey = "step"
	reagentKey contextKey = "reagent"
)

// WithRunID annotates ctx with the protocol run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// WithStep annotates ctx with the current step label.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// WithReagent annotates ctx with the reagent being dispensed.
func WithReagent(ctx context.Context, reagent string) context.Context {
	if reagent == "" {
		return ctx
	}
	return context.WithValue(ctx, reagentKey, reagent)
}

// RunIDFromContext returns the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, runIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringValue(ctx, runIDKey); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if step, ok := stringValue(ctx, stepKey); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if reagent, ok := stringValue(ctx, reagentKey); ok {
		fields = append(fields, slog.String(FieldReagent, reagent))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
