// Package notify delivers connector lifecycle events to a callback URL as
// CloudEvents.
package notify

import (
	"context"
	"errors"
)

var (
	// ErrBufferFull is returned when the buffer is full and the event is dropped.
	ErrBufferFull = errors.New("notify buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("notify dispatcher is closed")
)

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues an event for async delivery. Non-blocking.
	Dispatch(event *Event) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops accepting events and drains the queue until ctx is done.
	Close(ctx context.Context) error
}

// Event is a CloudEvent bound to its destination.
type Event struct {
	Payload     *CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty = unsigned
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer
	RetriesTotal int64 // total retry attempts
}

// MetricsRecorder is an optional sink for dispatcher metrics.
type MetricsRecorder interface {
	RecordNotifyDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifyFailed(ctx context.Context)
	RecordNotifyDropped(ctx context.Context)
	RecordNotifyQueueSize(ctx context.Context, size int64)
}
