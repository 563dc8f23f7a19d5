// Package logging adapts the orchestrator's minimal Logger interface to
// a concrete structured-logging backend.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured-logging contract the orchestrator, engines,
// and resolver log through. Kept independent of zerolog so tests can
// substitute a no-op or recording implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ZerologAdapter wraps a zerolog.Logger to satisfy Logger, in the
// structured-logging style used throughout the RedClaus-cortex family of
// example repos, rather than a bare no-op logger.
type ZerologAdapter struct {
	log zerolog.Logger
}

// New builds a ZerologAdapter writing to w (os.Stderr in production) at
// the given minimum level.
func New(w io.Writer, level zerolog.Level) *ZerologAdapter {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
	return &ZerologAdapter{log: zl}
}

func fields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (z *ZerologAdapter) Debug(msg string, args ...any) { fields(z.log.Debug(), args).Msg(msg) }
func (z *ZerologAdapter) Info(msg string, args ...any)  { fields(z.log.Info(), args).Msg(msg) }
func (z *ZerologAdapter) Warn(msg string, args ...any)  { fields(z.log.Warn(), args).Msg(msg) }
func (z *ZerologAdapter) Error(msg string, args ...any) { fields(z.log.Error(), args).Msg(msg) }

// NoOp is a Logger that discards everything, used as the zero-value
// fallback when a caller constructs an orchestrator without a logger —
// mirroring the orchestrator package's own NoOpLogger.
type NoOp struct{}

func (NoOp) Debug(string, ...any) {}
func (NoOp) Info(string, ...any)  {}
func (NoOp) Warn(string, ...any)  {}
func (NoOp) Error(string, ...any) {}
