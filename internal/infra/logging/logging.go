package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"freelance-escrow/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "freelance-escrow"

// New builds the process logger. Dev mode and format "console" write
// human-readable lines; everything else is JSON tagged with the service name.
// Sampling keeps every 100th event and is ignored in dev.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if dev || strings.EqualFold(cfg.Format, "console") {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	}

	if cfg.Sampling && !dev {
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

// Component derives a child logger tagged with the owning subsystem.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}

type ctxKey int

const (
	keyTraceID ctxKey = iota
	keyUserID
	keyPaymentID
	keyEventID
)

var ctxFields = []struct {
	key  ctxKey
	name string
}{
	{keyTraceID, "trace_id"},
	{keyUserID, "user_id"},
	{keyPaymentID, "payment_id"},
	{keyEventID, "event_id"},
}

// With returns base enriched with whichever request-scoped ids ctx carries.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	c := base.With()
	for _, f := range ctxFields {
		if v, ok := ctx.Value(f.key).(string); ok && v != "" {
			c = c.Str(f.name, v)
		}
	}
	l := c.Logger()
	return &l
}

// TraceDuration logs entry and exit of name at trace level.
//
//	defer logging.TraceDuration(log, "escrow.Release")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact masks secrets and account ids outside dev, keeping a short preview.
func Redact(s string, dev bool) string {
	switch {
	case dev:
		return s
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "..." + s[len(s)-2:]
	}
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyTraceID, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

func WithPaymentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyPaymentID, id)
}

func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyEventID, id)
}

// Global is used only before config is loaded.
var Global = log.Logger
