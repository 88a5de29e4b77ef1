// Package dispatcher delivers job lifecycle webhooks asynchronously, with
// buffering, retries and per-destination circuit breaking.
package dispatcher

import (
	"context"
	"errors"
	"venue/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the queue is full and the event is dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues webhook deliveries.
type Dispatcher interface {
	// Dispatch queues a delivery without blocking.
	Dispatch(d *Delivery) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close stops accepting deliveries and drains the queue until ctx ends.
	Close(ctx context.Context) error
}

// Delivery is one event bound for one webhook.
type Delivery struct {
	Event *cloudevent.CloudEvent
	URL   string
	Key   string // HMAC signing key, empty = unsigned

	requeues int
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth   int
	Queued       int64
	Delivered    int64
	Failed       int64 // gave up after retries or on a 4xx
	Dropped      int64 // buffer full or too many requeues
	Requeued     int64 // parked while the destination breaker was open
	RetriesTotal int64
	BreakersOpen int
}
