// Package logger provides the structured logging surface used across the
// engine: transport, transactions, dialogs and media sessions all log
// through a StructuredLogger so call context (Call-ID, dialog key,
// transaction id) rides along with every line.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field is a single structured log attribute.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field                { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Uint32(key string, value uint32) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// StructuredLogger is the logging contract used by every package in the
// engine. Implementations must be safe for concurrent use.
type StructuredLogger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// LogError logs err alongside msg at Error level.
	LogError(ctx context.Context, err error, msg string, fields ...Field)

	// WithComponent returns a logger tagged with a subsystem name
	// ("transport", "transaction", "dialog", "media").
	WithComponent(component string) StructuredLogger
	// WithFields returns a logger carrying additional persistent fields,
	// e.g. call-id/dialog-id/transaction-id.
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level zerolog.Level)
}

// zeroLogger adapts zerolog.Logger to StructuredLogger.
type zeroLogger struct {
	log zerolog.Logger
}

// New creates a StructuredLogger writing to w. sipTrace, when true, sets
// the minimum level to Debug so Via/branch-level detail is emitted;
// otherwise the level defaults to Info.
func New(w io.Writer, sipTrace bool) StructuredLogger {
	level := zerolog.InfoLevel
	if sipTrace {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return &zeroLogger{log: l}
}

// NewDefault builds a StructuredLogger writing JSON lines to stdout.
func NewDefault(sipTrace bool) StructuredLogger {
	return New(os.Stdout, sipTrace)
}

func apply(e *zerolog.Event, fields ...Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case uint32:
			e = e.Uint32(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	return e
}

func (l *zeroLogger) Trace(ctx context.Context, msg string, fields ...Field) {
	apply(l.log.Trace(), fields...).Msg(msg)
}

func (l *zeroLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	apply(l.log.Debug(), fields...).Msg(msg)
}

func (l *zeroLogger) Info(ctx context.Context, msg string, fields ...Field) {
	apply(l.log.Info(), fields...).Msg(msg)
}

func (l *zeroLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	apply(l.log.Warn(), fields...).Msg(msg)
}

func (l *zeroLogger) Error(ctx context.Context, msg string, fields ...Field) {
	apply(l.log.Error(), fields...).Msg(msg)
}

func (l *zeroLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {
	e := l.log.Error().Err(err)
	apply(e, fields...).Msg(msg)
}

func (l *zeroLogger) WithComponent(component string) StructuredLogger {
	return &zeroLogger{log: l.log.With().Str("component", component).Logger()}
}

func (l *zeroLogger) WithFields(fields ...Field) StructuredLogger {
	ctx := l.log.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ctx = ctx.Str(f.Key, v)
		case int:
			ctx = ctx.Int(f.Key, v)
		case uint32:
			ctx = ctx.Uint32(f.Key, v)
		case bool:
			ctx = ctx.Bool(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &zeroLogger{log: ctx.Logger()}
}

func (l *zeroLogger) SetLevel(level zerolog.Level) {
	l.log = l.log.Level(level)
}

// NoOp is a StructuredLogger that discards everything, used in tests.
type NoOp struct{}

func (NoOp) Trace(ctx context.Context, msg string, fields ...Field)                 {}
func (NoOp) Debug(ctx context.Context, msg string, fields ...Field)                 {}
func (NoOp) Info(ctx context.Context, msg string, fields ...Field)                  {}
func (NoOp) Warn(ctx context.Context, msg string, fields ...Field)                  {}
func (NoOp) Error(ctx context.Context, msg string, fields ...Field)                 {}
func (NoOp) LogError(ctx context.Context, err error, msg string, fields ...Field)   {}
func (NoOp) WithComponent(component string) StructuredLogger                       { return NoOp{} }
func (NoOp) WithFields(fields ...Field) StructuredLogger                           { return NoOp{} }
func (NoOp) SetLevel(level zerolog.Level)                                          {}
