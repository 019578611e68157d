package logger

import (
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one JSON object per line with service, action and hostname
// on every entry. Extra fields are passed as a map, the same shape the
// services used before zap was wired in.
type Logger struct {
	service string
	z       *zap.Logger
}

// New builds a production JSON logger at info level.
func New(service string) *Logger {
	lg, err := NewWithLevel(service, "info")
	if err != nil {
		return FromZap(service, zap.NewNop())
	}
	return lg
}

// NewWithLevel is New with an explicit level (debug|info|warn|error).
func NewWithLevel(service, level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return FromZap(service, z), nil
}

// FromZap wraps an existing zap logger. Tests hand in an observer core here.
func FromZap(service string, z *zap.Logger) *Logger {
	return &Logger{
		service: service,
		z:       z.With(zap.String("service", service), zap.String("hostname", hostname())),
	}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{service: l.service, z: l.z.With(toZap(fields)...)}
}

func (l *Logger) Debug(action string, fields map[string]any) {
	l.z.Debug(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.z.Info(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Warn(action string, fields map[string]any) {
	l.z.Warn(action, append(toZap(fields), zap.String("action", action))...)
}

func (l *Logger) Error(action string, err error, fields map[string]any) {
	zf := append(toZap(fields), zap.String("action", action))
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.z.Error(action, zf...)
}

// Sync flushes buffered entries; call it before the process exits.
func (l *Logger) Sync() { _ = l.z.Sync() }

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+2)
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
