// Package gwlog is the gateway's logging facade. It narrows the generic
// github.com/joeycumines/logiface Logger down to the handful of methods the
// core needs, so domain packages depend on an interface instead of a
// generic-parameterized type, while the backend (zerolog, slog, stumpy,
// logrus) remains swappable via Config.
package gwlog

import (
	"fmt"
	"os"

	"github.com/joeycumines/logiface"
)

// Field is a single structured logging field. Use F to construct one.
type Field struct {
	Key string
	Val any
}

// F constructs a Field.
func F(key string, val any) Field { return Field{Key: key, Val: val} }

// Logger is the narrow logging interface every gateway component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger with fields attached to every subsequent
	// record, in the manner of logiface.Context.
	With(fields ...Field) Logger
}

// Backend selects the logiface event implementation used underneath.
type Backend string

const (
	BackendZerolog Backend = "zerolog"
	BackendSlog    Backend = "slog"
	BackendStumpy  Backend = "stumpy"
	BackendLogrus  Backend = "logrus"
	BackendNoop    Backend = "noop"
)

// Config selects the backend and verbosity for New.
type Config struct {
	Backend Backend
	Level   logiface.Level
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendZerolog
	}
	if c.Level == 0 {
		c.Level = logiface.LevelInformational
	}
}

// New constructs a Logger per Config, writing to stderr.
func New(cfg Config) (Logger, error) {
	cfg.ApplyDefaults()
	switch cfg.Backend {
	case BackendZerolog:
		return newZerolog(cfg.Level)
	case BackendSlog:
		return newSlog(cfg.Level)
	case BackendStumpy:
		return newStumpy(cfg.Level)
	case BackendLogrus:
		return newLogrus(cfg.Level)
	case BackendNoop:
		return noop{}, nil
	default:
		return nil, fmt.Errorf("gwlog: unknown backend %q", cfg.Backend)
	}
}

// adapter implements Logger generically over any logiface.Event backend, so
// each concrete backend only needs to supply the wiring in New, not a
// reimplementation of this type.
type adapter[E logiface.Event] struct {
	lg *logiface.Logger[E]
}

func wrap[E logiface.Event](lg *logiface.Logger[E]) Logger {
	return adapter[E]{lg: lg}
}

func (a adapter[E]) record(level logiface.Level, msg string, fields []Field) {
	b := a.lg.Build(level)
	if b == nil {
		return
	}
	for _, f := range fields {
		b = b.Field(f.Key, f.Val)
	}
	b.Log(msg)
}

func (a adapter[E]) Debug(msg string, fields ...Field) {
	a.record(logiface.LevelDebug, msg, fields)
}

func (a adapter[E]) Info(msg string, fields ...Field) {
	a.record(logiface.LevelInformational, msg, fields)
}

func (a adapter[E]) Warn(msg string, fields ...Field) {
	a.record(logiface.LevelWarning, msg, fields)
}

func (a adapter[E]) Error(msg string, fields ...Field) {
	a.record(logiface.LevelError, msg, fields)
}

func (a adapter[E]) With(fields ...Field) Logger {
	ctx := a.lg.Clone()
	for _, f := range fields {
		ctx = ctx.Field(f.Key, f.Val)
	}
	return adapter[E]{lg: ctx.Logger()}
}

// noop discards everything; used for BackendNoop and as a safe default in
// tests that don't care about log output.
type noop struct{}

func (noop) Debug(string, ...Field) {}
func (noop) Info(string, ...Field)  {}
func (noop) Warn(string, ...Field)  {}
func (noop) Error(string, ...Field) {}
func (noop) With(...Field) Logger   { return noop{} }

// Noop returns a Logger that discards every record.
func Noop() Logger { return noop{} }

var stderr = os.Stderr
