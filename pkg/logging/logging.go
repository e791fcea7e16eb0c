// Package logging builds the shared zap logger. Field names follow one
// vocabulary across services: service, order_id, product_id, step, status,
// duration_ms.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func New(service string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.DisableStacktrace = true
	logger := zap.Must(cfg.Build())
	return logger.With(zap.String("service", service))
}

// Step tags a log entry with the workflow step it belongs to
// (reserve, release, persist, charge, refund, relay).
func Step(name string) zap.Field { return zap.String("step", name) }

func Status(s string) zap.Field { return zap.String("status", s) }

func OrderID(id string) zap.Field { return zap.String("order_id", id) }

func ProductID(id string) zap.Field { return zap.String("product_id", id) }

func DurationMS(ms int64) zap.Field { return zap.Int64("duration_ms", ms) }
