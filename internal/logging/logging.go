// Package logging provides the structured request logger used by the HTTP
// stack. It wraps zap and threads trace and caller identity through
// context so every log line for one request correlates.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// TraceIDKey carries the per-request trace ID.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey carries the authenticated subject.
	UserIDKey contextKey = "user_id"
	// AddressKey carries the authenticated caller's on-chain address.
	AddressKey contextKey = "address"
	// RoleKey carries the authenticated subject's role.
	RoleKey contextKey = "role"
)

// Config controls the logger output.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Dev switches to the human-readable development encoder.
	Dev bool
	// Service names the emitting process in every line.
	Service string
}

// Logger is a zap-backed structured logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger. Production output is JSON to stdout with ISO8601
// timestamps; Dev output is the console encoder.
func New(cfg Config) (*Logger, error) {
	lvl := levelFromString(cfg.Level)

	var base *zap.Logger
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		built, err := c.Build()
		if err != nil {
			return nil, err
		}
		base = built
	} else {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), lvl)
		base = zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	sugar := base.Sugar()
	if cfg.Service != "" {
		sugar = sugar.With("service", cfg.Service)
	}
	return &Logger{sugar: sugar}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Sync flushes buffered log entries. Call on shutdown.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// WithContext returns a logger annotated with whatever identity the
// context carries.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sugar := l.sugar
	if id := GetTraceID(ctx); id != "" {
		sugar = sugar.With("trace_id", id)
	}
	if id := GetUserID(ctx); id != "" {
		sugar = sugar.With("user_id", id)
	}
	if addr := GetAddress(ctx); addr != "" {
		sugar = sugar.With("address", addr)
	}
	if role := GetRole(ctx); role != "" {
		sugar = sugar.With("role", role)
	}
	return &Logger{sugar: sugar}
}

// WithError returns a logger annotated with the error.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{sugar: l.sugar.With("error", err)}
}

// WithFields returns a logger annotated with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

func (l *Logger) Debug(msg string) { l.sugar.Debug(msg) }
func (l *Logger) Info(msg string)  { l.sugar.Info(msg) }
func (l *Logger) Warn(msg string)  { l.sugar.Warn(msg) }
func (l *Logger) Error(msg string) { l.sugar.Error(msg) }

// LogRequest writes the access-log line for one completed request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).sugar.Infow("http request",
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", float64(duration.Microseconds())/1000.0,
	)
}

// LogSecurityEvent flags auth and rate-limit incidents at warn level so
// they stand out from ordinary traffic.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	args := []interface{}{"event", event}
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.WithContext(ctx).sugar.Warnw("security event", args...)
}

// NewTraceID mints a fresh request trace ID.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID returns a context carrying the trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID returns the trace ID in ctx, or "".
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithUserID returns a context carrying the authenticated subject.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, UserIDKey, id)
}

// GetUserID returns the authenticated subject in ctx, or "".
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// WithAddress returns a context carrying the caller's address.
func WithAddress(ctx context.Context, addr string) context.Context {
	if addr == "" {
		return ctx
	}
	return context.WithValue(ctx, AddressKey, addr)
}

// GetAddress returns the authenticated caller's address in ctx, or "".
func GetAddress(ctx context.Context) string {
	return stringValue(ctx, AddressKey)
}

// WithRole returns a context carrying the subject's role.
func WithRole(ctx context.Context, role string) context.Context {
	if role == "" {
		return ctx
	}
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole returns the authenticated subject's role in ctx, or "".
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
