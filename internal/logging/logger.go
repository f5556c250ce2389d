// Package logging is a thin key/value facade over zerolog that writes one JSON
// object per line.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel is a minimum severity as written in configuration.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	// LevelOff disables output.
	LevelOff LogLevel = "off"
)

// ParseLevel converts a config string into a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch l := LogLevel(s); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelOff:
		return l
	case "warning":
		return LevelWarn
	}
	return LevelInfo
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelOff:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger writes structured entries. The zero value is not usable; build one
// with NewLogger or Nop.
type Logger struct {
	zl zerolog.Logger
}

type loggerConfig struct {
	output  io.Writer
	level   LogLevel
	service string
}

// LoggerOption configures NewLogger.
type LoggerOption func(*loggerConfig)

// WithOutput sets the destination. Defaults to stdout.
func WithOutput(w io.Writer) LoggerOption {
	return func(c *loggerConfig) { c.output = w }
}

// WithLevel sets the minimum level. Defaults to info.
func WithLevel(level LogLevel) LoggerOption {
	return func(c *loggerConfig) { c.level = level }
}

// WithService sets the "service" field. Defaults to "tokenquota".
func WithService(service string) LoggerOption {
	return func(c *loggerConfig) { c.service = service }
}

func NewLogger(opts ...LoggerOption) *Logger {
	cfg := loggerConfig{output: os.Stdout, level: LevelInfo, service: "tokenquota"}
	for _, opt := range opts {
		opt(&cfg)
	}

	zl := zerolog.New(cfg.output).
		Level(cfg.level.zerolog()).
		With().
		Timestamp().
		Str("service", cfg.service).
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(pairs(kv)).Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.emit(nil, l.zl.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.emit(nil, l.zl.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.emit(nil, l.zl.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.emit(nil, l.zl.Error(), msg, kv) }

// DebugWithContext is Debug plus the request ID and identity held by ctx.
func (l *Logger) DebugWithContext(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, l.zl.Debug(), msg, kv)
}

func (l *Logger) InfoWithContext(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, l.zl.Info(), msg, kv)
}

func (l *Logger) WarnWithContext(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, l.zl.Warn(), msg, kv)
}

func (l *Logger) ErrorWithContext(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, l.zl.Error(), msg, kv)
}

func (l *Logger) emit(ctx context.Context, ev *zerolog.Event, msg string, kv []any) {
	// nil when the level is filtered out
	if ev == nil {
		return
	}
	if ctx != nil {
		if id := RequestID(ctx); id != "" {
			ev = ev.Str("request_id", id)
		}
		if identity := Identity(ctx); identity != "" {
			ev = ev.Str("identity", identity)
		}
	}
	if len(kv) > 0 {
		ev = ev.Fields(pairs(kv))
	}
	ev.Msg(msg)
}

// pairs turns key, value, key, value... into a map. Non-string keys and a
// trailing key without a value are dropped. error values are logged by message.
func pairs(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr && err != nil {
			out[key] = err.Error()
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
