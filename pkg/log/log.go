// Package log carries a *slog.Logger through a context.Context so handlers
// and background loops can attach request- or device-scoped attributes once
// and log through the context everywhere below.
package log

import (
	"context"
	"log/slog"
	"os"
)

var baseLevel slog.LevelVar

var baseLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	AddSource: true,
	Level:     &baseLevel,
}))

type loggerKey struct{}

// Ctx returns the logger attached to ctx, or the process-wide base logger
// when none was attached.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return baseLogger
}

// With returns a copy of ctx carrying logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetDefaultLogLevel adjusts the level of the base logger.
func SetDefaultLogLevel(level slog.Level) {
	baseLevel.Set(level)
}
