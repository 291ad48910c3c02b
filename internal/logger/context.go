package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	callerKey contextKey = "caller"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithCaller records the authenticated caller identity and returns a logger
// carrying it.
func WithCaller(ctx context.Context, logger *zap.Logger, caller string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, callerKey, caller)
	enriched := logger.With(zap.String("caller", caller))
	return WithContext(ctx, enriched), enriched
}

// GetCaller returns the caller identity stored by WithCaller.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey).(string); ok {
		return caller
	}
	return ""
}
