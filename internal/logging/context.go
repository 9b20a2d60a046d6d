package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	commandKey
	transportKey
)

// WithRequestID returns a context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithCommand returns a context with the protocol command set.
func WithCommand(ctx context.Context, cmd string) context.Context {
	return context.WithValue(ctx, commandKey, cmd)
}

// WithTransport returns a context naming the transport that carried the
// request: stdio, mcp or cli.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// RequestID extracts the request ID from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Command extracts the command from the context, or "" if absent.
func Command(ctx context.Context) string {
	v, _ := ctx.Value(commandKey).(string)
	return v
}

// Transport extracts the transport from the context, or "" if absent.
func Transport(ctx context.Context) string {
	v, _ := ctx.Value(transportKey).(string)
	return v
}

// WithIDs sets the request ID and command on the context at once.
func WithIDs(ctx context.Context, requestID, command string) context.Context {
	ctx = WithRequestID(ctx, requestID)
	ctx = WithCommand(ctx, command)
	return ctx
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := RequestID(ctx); v != "" {
		out = append(out, slog.String("request_id", v))
	}
	if v := Command(ctx); v != "" {
		out = append(out, slog.String("command", v))
	}
	if v := Transport(ctx); v != "" {
		out = append(out, slog.String("transport", v))
	}
	return out
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation values from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and the values appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
