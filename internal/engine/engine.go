// Package engine owns the job table and the adapter registry, and routes
// operation invocations to adapters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"venue/internal/apperrors"
	"venue/internal/dispatcher"
	"venue/internal/job"
	"venue/internal/jobid"
)

// unresolved labels jobs whose operation never reached an adapter.
const unresolved = "unresolved"

// MetricsRecorder is an optional interface for recording job metrics.
type MetricsRecorder interface {
	RecordJobCreated(ctx context.Context, adapter string)
	RecordJobFinished(ctx context.Context, adapter, status string, failure bool, durationSeconds float64)
}

// Config holds the engine's collaborators. All fields are optional.
type Config struct {
	Store      MetadataStore
	Dispatcher dispatcher.Dispatcher
	Metrics    MetricsRecorder
	IDs        *jobid.Generator
}

// Engine dispatches invocations to adapters and tracks every job it
// creates.
type Engine struct {
	mu       sync.RWMutex
	adapters map[string]Adapter

	jobs       *table
	ids        *jobid.Generator
	store      MetadataStore
	dispatcher dispatcher.Dispatcher
	metrics    MetricsRecorder
	logger     *slog.Logger

	base   context.Context
	stop   context.CancelFunc
	closed atomic.Bool
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.IDs == nil {
		cfg.IDs = jobid.New()
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		adapters:   make(map[string]Adapter),
		jobs:       newTable(),
		ids:        cfg.IDs,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     slog.With("component", "engine"),
		base:       base,
		stop:       stop,
	}
}

// RegisterAdapter adds an adapter. Adapters cannot be replaced.
func (e *Engine) RegisterAdapter(a Adapter) error {
	if a == nil || a.Name() == "" {
		return apperrors.Validation("adapter", "adapter name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.adapters[a.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterExists, a.Name())
	}
	e.adapters[a.Name()] = a
	e.logger.Info("Adapter registered", "adapter", a.Name())
	return nil
}

// Adapter returns a registered adapter.
func (e *Engine) Adapter(name string) (Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.adapters[name]
	return a, ok
}

// Adapters returns the registered adapter names, sorted.
func (e *Engine) Adapters() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Operations returns the operations of each registered adapter that
// lists them.
func (e *Engine) Operations() map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ops := make(map[string][]string)
	for name, a := range e.adapters {
		if l, ok := a.(OperationLister); ok {
			ops[name] = l.Operations()
		}
	}
	return ops
}

// InvokeOperation starts a job for opRef, which is either a metadata hash
// or a literal "adapter:operation" string.
//
// An unresolvable hash yields a job that is already FAILED rather than an
// error, so callers always get a handle to inspect. An unregistered
// adapter is a configuration error and no job is created.
func (e *Engine) InvokeOperation(ctx context.Context, opRef string, input any, opts ...InvokeOption) (*job.Job, error) {
	if e.closed.Load() {
		return nil, apperrors.Unavailable("engine is shutting down")
	}
	if opRef == "" {
		return nil, apperrors.Validation("operation", "operation reference is required")
	}
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	meta, reason := e.resolve(ctx, opRef, o.meta)
	if reason != "" {
		j, _, err := e.start(ctx, opRef, input, nil, unresolved, &o)
		if err != nil {
			return nil, err
		}
		j.Fail(reason)
		return j, nil
	}

	adapterName, operation := SplitRef(meta.AdapterOp())
	adapter, ok := e.Adapter(adapterName)
	if !ok {
		return nil, apperrors.Configuration("adapter", adapterName, "not registered")
	}

	j, jobCtx, err := e.start(ctx, opRef, input, meta, adapterName, &o)
	if err != nil {
		return nil, err
	}
	adapter.Invoke(jobCtx, j, operation, meta, input)
	return j, nil
}

// resolve finds the metadata for opRef. A non-empty reason means the
// reference could not be resolved.
func (e *Engine) resolve(ctx context.Context, opRef string, override Metadata) (Metadata, string) {
	if IsLiteralRef(opRef) {
		if override != nil {
			return cloneWithAdapter(override, opRef), ""
		}
		return LiteralMetadata(opRef), ""
	}
	if e.store == nil {
		return nil, fmt.Sprintf("operation metadata not found: %s", opRef)
	}
	meta, ok, err := e.store.Get(ctx, opRef)
	switch {
	case err != nil:
		return nil, fmt.Sprintf("metadata lookup failed for %s: %v", opRef, err)
	case !ok:
		return nil, fmt.Sprintf("operation metadata not found: %s", opRef)
	case meta.AdapterOp() == "":
		return nil, fmt.Sprintf("metadata %s has no operation.adapter", opRef)
	}
	return meta, ""
}

func cloneWithAdapter(meta Metadata, ref string) Metadata {
	out := make(Metadata, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	op := make(map[string]any, len(meta.Operation())+1)
	for k, v := range meta.Operation() {
		op[k] = v
	}
	op["adapter"] = ref
	out["operation"] = op
	return out
}

// start creates a PENDING job, registers it and wires its hooks.
func (e *Engine) start(ctx context.Context, opRef string, input any, meta Metadata, adapter string, o *invokeOptions) (*job.Job, context.Context, error) {
	id, err := e.ids.Next()
	if err != nil {
		return nil, nil, apperrors.Internal("generate job id", err)
	}

	jobCtx, cancel := context.WithCancel(e.base)
	ent := &entry{}
	logger := e.logger.With("jobId", id.String(), "op", opRef)

	var builder *job.EventBuilder
	if o.callback != nil && e.dispatcher != nil {
		builder = job.NewEventBuilder(id.String(), job.EventSource)
	}
	notify := func(rec job.Record) {
		if builder == nil || !job.FilteredEvents(eventType(rec), o.callback.Events) {
			return
		}
		err := e.dispatcher.Dispatch(&dispatcher.Delivery{
			Event: builder.ForRecord(rec),
			URL:   o.callback.URL,
			Key:   o.callback.Key,
		})
		if err != nil {
			logger.Warn("Callback not queued", "error", err)
		}
	}

	hooks := job.Hooks{
		OnUpdate: func(rec job.Record) {
			e.jobs.update(rec)
			notify(rec)
		},
		OnFinish: func(rec job.Record) {
			e.jobs.update(rec)
			cancel()
			notify(rec)
			e.recordFinished(rec, adapter)
			if rec.Status == job.StatusComplete {
				logger.Info("Job finished", "status", rec.Status)
			} else {
				logger.Warn("Job finished", "status", rec.Status, "error", rec.Error)
			}
		},
	}

	j := job.New(job.Record{
		ID:     id.String(),
		Op:     opRef,
		Status: job.StatusPending,
		Input:  input,
		Name:   meta.Name(),
	}, hooks)
	ent.job = j
	ent.rec = j.Record()

	if err := e.jobs.insert(ent); err != nil {
		cancel()
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordJobCreated(ctx, adapter)
	}
	notify(ent.rec)
	logger.Info("Job created", "adapter", adapter)
	return j, jobCtx, nil
}

func eventType(rec job.Record) string {
	if rec.IsFinished() {
		return job.EventTypeFinish
	}
	return job.EventTypeUpdate
}

func (e *Engine) recordFinished(rec job.Record, adapter string) {
	if e.metrics == nil {
		return
	}
	failure := rec.Status.IsFailure() || rec.Status == job.StatusTimeout
	duration := time.Duration(rec.Updated-rec.Created) * time.Millisecond
	e.metrics.RecordJobFinished(context.Background(), adapter, string(rec.Status), failure, duration.Seconds())
}

// UpdateJobStatus applies rec to the job it names. It returns false when
// the job is unknown or already finished.
func (e *Engine) UpdateJobStatus(rec job.Record) bool {
	ent, current, ok := e.jobs.get(rec.ID)
	if !ok || current.IsFinished() {
		return false
	}
	return ent.job.UpdateData(rec)
}

// GetJobData returns the job table's record for id.
func (e *Engine) GetJobData(id string) (job.Record, error) {
	_, rec, ok := e.jobs.get(id)
	if !ok {
		return job.Record{}, apperrors.NotFound("job", id)
	}
	return rec, nil
}

// Job returns the live job for id.
func (e *Engine) Job(id string) (*job.Job, bool) {
	ent, _, ok := e.jobs.get(id)
	if !ok {
		return nil, false
	}
	return ent.job, true
}

// ListJobs returns every job record in creation order.
func (e *Engine) ListJobs() []job.Record {
	return e.jobs.records()
}

// CancelJob cancels a running job; its finish hook cancels the job's
// context. Cancelling a finished job is a conflict.
func (e *Engine) CancelJob(id string) (job.Record, error) {
	ent, rec, ok := e.jobs.get(id)
	if !ok {
		return job.Record{}, apperrors.NotFound("job", id)
	}
	if rec.IsFinished() || !ent.job.Cancel() {
		return ent.job.Record(), apperrors.Conflict("job", id, "job already finished")
	}
	return ent.job.Record(), nil
}

// DeleteJob removes a finished job from the table.
func (e *Engine) DeleteJob(id string) error {
	return e.jobs.remove(id)
}

// Ready reports whether the engine accepts work and every adapter with an
// external dependency can reach it.
func (e *Engine) Ready(ctx context.Context) error {
	if e.closed.Load() {
		return apperrors.Unavailable("engine is shutting down")
	}
	e.mu.RLock()
	adapters := make([]Adapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		adapters = append(adapters, a)
	}
	e.mu.RUnlock()

	var errs []error
	for _, a := range adapters {
		if rc, ok := a.(ReadyChecker); ok {
			if err := rc.Ready(ctx); err != nil {
				errs = append(errs, fmt.Errorf("adapter %s: %w", a.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting invocations and waits for running jobs until ctx
// ends; jobs still running then are cancelled.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer e.stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		running := e.jobs.running()
		if len(running) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			for _, ent := range running {
				ent.job.Cancel()
			}
			e.logger.Warn("Cancelled running jobs at shutdown", "count", len(running))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
