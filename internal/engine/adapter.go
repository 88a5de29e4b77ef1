package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"venue/internal/job"

	"golang.org/x/sync/semaphore"
)

// ErrAdapterExists is returned when an adapter name is registered twice.
var ErrAdapterExists = errors.New("adapter already registered")

// Adapter performs operations. Invoke must not block: it hands the job
// off and is then solely responsible for driving it to a terminal status.
// ctx is cancelled when the job is cancelled or the engine shuts down.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, j *job.Job, operation string, meta Metadata, input any)
}

// OperationLister is implemented by adapters with a fixed set of
// operations.
type OperationLister interface {
	Operations() []string
}

// ReadyChecker is implemented by adapters with an external dependency
// that can be unavailable.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Handler computes an operation result. Returning an error fails the job
// with the error text.
type Handler func(ctx context.Context, meta Metadata, input any) (any, error)

// Operation binds a handler to an operation name.
type Operation struct {
	Handler Handler
	// Sync runs the handler inside Invoke. Only for O(1) work.
	Sync bool
}

// FuncAdapter turns plain handlers into an Adapter. Asynchronous handlers
// run in their own goroutine, bounded by a weighted semaphore.
type FuncAdapter struct {
	name   string
	ops    map[string]Operation
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewFuncAdapter creates an adapter. concurrency <= 0 means 64.
func NewFuncAdapter(name string, concurrency int64, ops map[string]Operation) *FuncAdapter {
	if concurrency <= 0 {
		concurrency = 64
	}
	return &FuncAdapter{
		name:   name,
		ops:    ops,
		sem:    semaphore.NewWeighted(concurrency),
		logger: slog.With("component", "adapter", "adapter", name),
	}
}

// Name returns the adapter name.
func (a *FuncAdapter) Name() string { return a.name }

// Operations lists the supported operation names in order.
func (a *FuncAdapter) Operations() []string {
	names := make([]string, 0, len(a.ops))
	for name := range a.ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invoke implements Adapter.
func (a *FuncAdapter) Invoke(ctx context.Context, j *job.Job, operation string, meta Metadata, input any) {
	op, ok := a.ops[operation]
	if !ok || op.Handler == nil {
		j.Fail(fmt.Sprintf("operation %q not supported by adapter %q", operation, a.name))
		return
	}
	if op.Sync {
		a.run(ctx, j, op.Handler, meta, input)
		return
	}
	go func() {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			j.Fail(fmt.Sprintf("adapter %s: %v", a.name, err))
			return
		}
		defer a.sem.Release(1)
		a.run(ctx, j, op.Handler, meta, input)
	}()
}

func (a *FuncAdapter) run(ctx context.Context, j *job.Job, h Handler, meta Metadata, input any) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Handler panic", "jobId", j.ID(), "panic", r, "stack", string(debug.Stack()))
			j.Fail(fmt.Sprintf("panic: %v", r))
		}
	}()

	j.SetStatus(job.StatusStarted)
	out, err := h(ctx, meta, input)
	if err != nil {
		j.Fail(err.Error())
		return
	}
	if err := j.CompleteWith(out); err != nil {
		// Cancelled while the handler ran.
		a.logger.Debug("Result discarded", "jobId", j.ID(), "status", j.Status())
	}
}
