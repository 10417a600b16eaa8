// Package observability provides structured logging for the relay.
package observability

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/roomrelay/internal/config"
)

// ServiceName is attached to every entry as the "service" field.
const ServiceName = "roomrelay"

// Option customises NewLogger.
type Option func(*options)

type options struct {
	out      zapcore.WriteSyncer
	sampling bool
}

// WithOutput sends log entries to w instead of stderr.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.out = w }
}

// WithoutSampling disables the per-second sampling applied to JSON output.
func WithoutSampling() Option {
	return func(o *options) { o.sampling = false }
}

// NewLogger creates the relay's root logger. JSON output is sampled so a
// chatty room cannot flood the log with identical per-frame entries; console
// output is unsampled and colourised for local development.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a logger named "relay" carrying the service and pid
// fields, or a non-nil error.
func NewLogger(cfg config.LoggingConfig, opts ...Option) (*zap.Logger, error) {
	o := options{out: zapcore.Lock(os.Stderr), sampling: true}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var core zapcore.Core
	switch cfg.Format {
	case "json":
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(enc), o.out, level)
		if o.sampling {
			core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
		}
	case "console":
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), o.out, level)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(o.out),
		zap.Fields(zap.String("service", ServiceName), zap.Int("pid", os.Getpid())),
	)
	return logger.Named("relay"), nil
}
