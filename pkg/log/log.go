// Package log carries a slog.Logger through contexts and owns the process
// wide default logger.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   atomic.Pointer[slog.Logger]
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
	// stderr until Setup points it at the log file
	setDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	})))
}

func setDefault(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// Default returns the logger used when the context has none.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context or Default.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return Default()
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// SetDefaultLogLevel changes the level of Default.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
