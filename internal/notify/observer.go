package notify

import (
	"context"
	"errors"
	"log/slog"

	"azflow/internal/connector"
)

// Observer turns connector checkpoints into CloudEvents.
type Observer struct {
	dispatcher  Dispatcher
	destination string
	key         string
	logger      *slog.Logger
}

// NewObserver returns an observer posting to destination, signing with key
// when it is non-empty.
func NewObserver(d Dispatcher, destination, key string) *Observer {
	return &Observer{
		dispatcher:  d,
		destination: destination,
		key:         key,
		logger:      slog.With("component", "notify"),
	}
}

// Observe implements connector.Observer. It never blocks.
func (o *Observer) Observe(ctx context.Context, ev connector.Event) {
	err := o.dispatcher.Dispatch(&Event{
		Payload:     NewEvent(ev),
		Destination: o.destination,
		SigningKey:  o.key,
	})
	if err != nil && !errors.Is(err, ErrBufferFull) {
		o.logger.DebugContext(ctx, "Checkpoint not dispatched", "checkpoint", string(ev.Checkpoint), "error", err)
	}
}

var _ connector.Observer = (*Observer)(nil)
