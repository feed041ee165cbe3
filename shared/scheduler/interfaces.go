package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Task is one entity's share of a firing: one worker notification or one
// city report.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Job produces the tasks for a firing of a loop.
type Job interface {
	Name() string
	Tasks(ctx context.Context, now time.Time) ([]Task, error)
}

// Marker remembers which trigger minutes a loop has already fired for.
// Shared implementations let several replicas fire once between them.
type Marker interface {
	// Claim returns true when key was not claimed before for loop.
	Claim(ctx context.Context, loop, key string) (bool, error)
}

// Logger interface for logging.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
}

type zerologAdapter struct {
	l zerolog.Logger
}

// NewZerologLogger adapts a zerolog logger to Logger. Fields are key/value pairs.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologAdapter{l: l.With().Str("component", "scheduler").Logger()}
}

func (a *zerologAdapter) Info(msg string, fields ...interface{}) {
	a.l.Info().Fields(fields).Msg(msg)
}

func (a *zerologAdapter) Error(msg string, fields ...interface{}) {
	a.l.Error().Fields(fields).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields ...interface{}) {
	a.l.Debug().Fields(fields).Msg(msg)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
