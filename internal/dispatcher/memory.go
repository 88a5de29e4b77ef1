package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"venue/pkg/backoff"
	"venue/pkg/circuitbreaker"
	"venue/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
}

// MemoryDispatcher queues deliveries in a bounded channel drained by a
// worker pool. A full buffer drops the delivery rather than blocking the
// job that produced it.
type MemoryDispatcher struct {
	queue    chan *Delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	retry    backoff.Config
	cfg      MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	workers  sync.WaitGroup
	parked   sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory starts an in-memory dispatcher. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	d := &MemoryDispatcher{
		queue:  make(chan *Delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		retry:    backoff.Config{Initial: cfg.RetryInitial},
		cfg:      cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.workers.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Dispatch queues a delivery.
func (d *MemoryDispatcher) Dispatch(delivery *Delivery) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.enqueue(delivery) {
		d.drop(delivery, "buffer full")
		return ErrBufferFull
	}
	d.queued.Add(1)
	return nil
}

func (d *MemoryDispatcher) enqueue(delivery *Delivery) bool {
	select {
	case d.queue <- delivery:
		return true
	default:
		return false
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		Requeued:     d.requeued.Load(),
		RetriesTotal: d.retriesTotal.Load(),
		BreakersOpen: d.breakers.Stats().Open,
	}
}

// Close stops the workers after they drain the queue. Deliveries parked
// behind an open breaker are abandoned.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.parked.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) work() {
	defer d.workers.Done()
	for {
		select {
		case delivery := <-d.queue:
			d.deliver(delivery)
		case <-d.shutdown:
			for {
				select {
				case delivery := <-d.queue:
					d.deliver(delivery)
				default:
					return
				}
			}
		}
	}
}

func (d *MemoryDispatcher) deliver(delivery *Delivery) {
	host := hostOf(delivery.URL)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.park(delivery, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.send(ctx, delivery); err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", "destination", host, "type", delivery.Event.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// send makes the first attempt plus up to MaxRetries retries. 4xx
// responses are final.
func (d *MemoryDispatcher) send(ctx context.Context, delivery *Delivery) error {
	var err error
	for attempt := 0; attempt <= max(d.cfg.MaxRetries, 0); attempt++ {
		if attempt > 0 {
			d.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, &d.retry)):
			}
		}
		err = d.sender.Send(ctx, delivery.URL, delivery.Event, delivery.Key)
		if err == nil || cloudevent.IsClientError(err) {
			return err
		}
	}
	return err
}

// park holds a delivery for one breaker cooldown, then puts it back on the
// queue.
func (d *MemoryDispatcher) park(delivery *Delivery, host string) {
	if delivery.requeues >= d.cfg.MaxRequeues {
		d.drop(delivery, "max requeues reached")
		return
	}
	delivery.requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	d.parked.Add(1)
	go func() {
		defer d.parked.Done()
		timer := time.NewTimer(d.cfg.BreakerCooldown)
		defer timer.Stop()
		select {
		case <-d.shutdown:
			return
		case <-timer.C:
		}
		if !d.enqueue(delivery) {
			d.drop(delivery, "buffer full on requeue")
			return
		}
		d.logger.Debug("Delivery requeued", "destination", host, "requeues", delivery.requeues)
	}()
}

func (d *MemoryDispatcher) drop(delivery *Delivery, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Delivery dropped",
		"reason", reason,
		"destination", hostOf(delivery.URL),
		"type", delivery.Event.Type,
	)
}

// hostOf keys circuit breakers by destination host.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
