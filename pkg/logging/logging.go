package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields are the correlation attributes shared by every service.
type Fields struct {
	Service    string
	OrderID    string
	SubOrderID string
	EventID    string
	Step       string
	Status     string
	DurationMS int64
}

// Zap renders the non-empty fields as zap fields.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, 7)
	add := func(k, v string) {
		if v != "" {
			out = append(out, zap.String(k, v))
		}
	}
	add("service", f.Service)
	add("order_id", f.OrderID)
	add("sub_order_id", f.SubOrderID)
	add("event_id", f.EventID)
	add("step", f.Step)
	add("status", f.Status)
	if f.DurationMS > 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	return out
}

// New builds a JSON production logger tagged with the service name.
func New(service, level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "timestamp"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

// Log writes one info line with the given fields. It is a shorthand for
// call sites that only carry correlation attributes.
func Log(logger *zap.Logger, msg string, fields Fields) {
	logger.Info(msg, fields.Zap()...)
}
