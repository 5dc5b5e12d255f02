// Package logger is a thin layer over log/slog shared by every package.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init replaces the global logger. format is "json" or "text".
func Init(level, format string) {
	defaultLogger = newLogger(os.Stdout, level, format)
	slog.SetDefault(defaultLogger)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type attrsKey struct{}

// ContextWith returns a copy of ctx whose WithContext logger also carries args.
// Attributes accumulate across calls.
func ContextWith(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(attrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// WithContext returns the global logger with the attributes stored by ContextWith.
func WithContext(ctx context.Context) *slog.Logger {
	if attrs, ok := ctx.Value(attrsKey{}).([]any); ok {
		return defaultLogger.With(attrs...)
	}
	return defaultLogger
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}

// StripeLogger routes stripe-go's leveled log calls into slog.
type StripeLogger struct {
	l *slog.Logger
}

// NewStripeLogger returns an adapter satisfying stripe.LeveledLoggerInterface.
func NewStripeLogger() *StripeLogger {
	return &StripeLogger{l: defaultLogger.With("component", "stripe")}
}

func (s *StripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s *StripeLogger) Infof(format string, v ...interface{})  { s.l.Info(fmt.Sprintf(format, v...)) }
func (s *StripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s *StripeLogger) Errorf(format string, v ...interface{}) { s.l.Error(fmt.Sprintf(format, v...)) }
