package connector

import (
	"context"
	"log/slog"
	"time"
)

// Checkpoint names a lifecycle point reported to observers.
type Checkpoint string

// Checkpoints
const (
	CheckpointSetupStart   Checkpoint = "setup-start"
	CheckpointSetupDone    Checkpoint = "setup-done"
	CheckpointRunDone      Checkpoint = "run-done"
	CheckpointTeardownDone Checkpoint = "teardown-done"
)

// Event describes one checkpoint of one connector instance.
type Event struct {
	Checkpoint Checkpoint
	Kind       string
	Name       string
	Duration   time.Duration
	Err        error
}

// Observer receives lifecycle checkpoints. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans an event out to every observer in order.
type Observers []Observer

// Observe reports ev to each non-nil observer.
func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}

// Nop discards events.
var Nop Observer = ObserverFunc(func(context.Context, Event) {})

// LogObserver logs checkpoints with slog.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe logs ev at info level, or warn when it carries an error.
func (l LogObserver) Observe(ctx context.Context, ev Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"checkpoint", string(ev.Checkpoint),
		"kind", ev.Kind,
		"name", ev.Name,
	}
	if ev.Duration > 0 {
		attrs = append(attrs, "duration", ev.Duration)
	}
	if ev.Err != nil {
		logger.WarnContext(ctx, "connector checkpoint failed", append(attrs, "error", ev.Err)...)
		return
	}
	logger.InfoContext(ctx, "connector checkpoint", attrs...)
}
