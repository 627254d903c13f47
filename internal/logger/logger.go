// Package logger configures process-wide logging. A single zap core backs
// both the package-level sugared helpers used by the CLI and the default
// slog logger used by the library packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// LevelEnvKey is read with the configured env prefix, e.g. OCR_COORD_LOG_LEVEL.
const LevelEnvKey = "LOG_LEVEL"

var (
	mu      sync.RWMutex
	sugared = zap.NewNop().Sugar()
)

type options struct {
	writer   io.Writer
	encoding string
	level    zapcore.Level
}

// Option configures Initialize.
type Option func(*options)

// WithWriter sends log output to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithEncoding selects "json" (default) or "console" output.
func WithEncoding(encoding string) Option {
	return func(o *options) {
		o.encoding = encoding
	}
}

// WithLevel sets the minimum level.
func WithLevel(level zapcore.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// Initialize builds the shared zap core, installs it as the slog default and
// returns the slog logger.
func Initialize(opts ...Option) *slog.Logger {
	o := &options{writer: os.Stderr, encoding: "json", level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	var enc zapcore.Encoder
	if o.encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(o.writer)), zap.NewAtomicLevelAt(o.level))

	mu.Lock()
	sugared = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()

	handler := &traceHandler{Handler: zapslog.NewHandler(core, zapslog.WithCaller(true))}
	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// LevelFromEnv reads the level from <prefix>_LOG_LEVEL, falling back to
// LOG_LEVEL.
func LevelFromEnv(prefix string) zapcore.Level {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString(LevelEnvKey)
	if levelStr == "" {
		levelStr = os.Getenv(LevelEnvKey)
	}
	level, ok := ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

// ParseLevel maps a level name to a zap level. Unknown names yield info and
// false.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// Get returns the package-level sugared logger.
func Get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Get().Sync()
}

// Debug logs at debug level.
func Debug(msg string) { Get().Debug(msg) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { Get().Debugf(format, args...) }

// Info logs at info level.
func Info(msg string) { Get().Info(msg) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { Get().Infof(format, args...) }

// Infow logs a message with key/value pairs at info level.
func Infow(msg string, keysAndValues ...any) { Get().Infow(msg, keysAndValues...) }

// Warn logs at warn level.
func Warn(msg string) { Get().Warn(msg) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { Get().Warnf(format, args...) }

// Warnw logs a message with key/value pairs at warn level.
func Warnw(msg string, keysAndValues ...any) { Get().Warnw(msg, keysAndValues...) }

// Error logs at error level.
func Error(msg string) { Get().Error(msg) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { Get().Errorf(format, args...) }

// Errorw logs a message with key/value pairs at error level.
func Errorw(msg string, keysAndValues ...any) { Get().Errorw(msg, keysAndValues...) }

// Fatalf logs a formatted message and exits the process.
func Fatalf(format string, args ...any) { Get().Fatalf(format, args...) }

// traceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and
// span_id into every record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
