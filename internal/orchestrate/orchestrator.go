// Package orchestrate implements the orchestrator adapter: composite
// operations declared as steps whose inputs reference the orchestration
// input, constants or the outputs of earlier steps.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"venue/internal/apperrors"
	"venue/internal/engine"
	"venue/internal/job"
)

// AdapterName is the name the orchestrator registers under.
const AdapterName = "orchestrator"

// DefaultPollInterval bounds how long the scheduler blocks waiting for a
// step before re-checking cancellation.
const DefaultPollInterval = 50 * time.Millisecond

// Invoker starts sub-jobs. The engine satisfies it.
type Invoker interface {
	InvokeOperation(ctx context.Context, opRef string, input any, opts ...engine.InvokeOption) (*job.Job, error)
}

// MetricsRecorder is an optional interface for recording step metrics.
type MetricsRecorder interface {
	RecordStep(ctx context.Context, adapter string, success bool, durationSeconds float64)
}

// Config configures an Orchestrator.
type Config struct {
	Invoker      Invoker
	PollInterval time.Duration
	Metrics      MetricsRecorder
}

// Orchestrator is an engine.Adapter running orchestrations.
type Orchestrator struct {
	invoker Invoker
	poll    time.Duration
	metrics MetricsRecorder
	logger  *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{
		invoker: cfg.Invoker,
		poll:    cfg.PollInterval,
		metrics: cfg.Metrics,
		logger:  slog.With("component", "orchestrator"),
	}
}

// Name implements engine.Adapter.
func (o *Orchestrator) Name() string { return AdapterName }

// Invoke implements engine.Adapter. The operation name is ignored; the
// metadata carries the steps.
func (o *Orchestrator) Invoke(ctx context.Context, j *job.Job, _ string, meta engine.Metadata, input any) {
	orch, err := Build(meta, input)
	if err != nil {
		j.Fail("invalid orchestration: " + describe(err))
		return
	}
	go o.run(ctx, j, orch)
}

// completion reports one finished step.
type completion struct {
	index    int
	output   any
	err      error
	duration time.Duration
}

// run drives the scheduler until every step has an output, a step fails,
// or the job is cancelled.
func (o *Orchestrator) run(ctx context.Context, j *job.Job, orch *Orchestration) {
	logger := o.logger.With("jobId", j.ID())
	j.SetStatus(job.StatusStarted)

	tasks := orch.Tasks
	env := NewEnv(orch.Input, len(tasks))
	pending := make(map[int]map[int]struct{}, len(tasks))
	for _, t := range tasks {
		deps := make(map[int]struct{}, len(t.Deps))
		for _, d := range t.Deps {
			deps[d] = struct{}{}
		}
		pending[t.Index] = deps
	}
	// Buffered so step waiters never block, even after the scheduler quits.
	done := make(chan completion, len(tasks))
	running := make(map[int]*job.Job)
	outstanding := len(tasks)

	stop := func() {
		for _, sub := range running {
			sub.Cancel()
		}
	}

	for outstanding > 0 {
		for _, idx := range ready(pending) {
			t := tasks[idx]
			delete(pending, idx)
			in, err := t.Step.Input.Eval(env)
			if err != nil {
				j.Fail(fmt.Sprintf("step %d (%s): %v", idx, t.Step.Op, err))
				return
			}
			sub, err := o.invoker.InvokeOperation(ctx, t.Step.Op, in)
			if err != nil {
				j.Fail(fmt.Sprintf("step %d (%s): %v", idx, t.Step.Op, err))
				stop()
				return
			}
			running[idx] = sub
			logger.Debug("Step started", "step", idx, "op", t.Step.Op, "subJobId", sub.ID())
			go wait(ctx, idx, sub, done)
		}

		received, ok := o.receive(ctx, j, done)
		if !ok {
			stop()
			logger.Info("Orchestration stopped", "status", j.Status())
			return
		}
		for _, c := range received {
			t := tasks[c.index]
			delete(running, c.index)
			o.recordStep(ctx, t.Step.Op, c.err == nil, c.duration)
			if c.err != nil {
				// Steps still running finish on their own; their results are dropped.
				j.Fail(fmt.Sprintf("step %d (%s) failed: %s", c.index, t.Step.Op, failureMessage(c.err)))
				return
			}
			t.Output = c.output
			env.SetOutput(c.index, c.output)
			for _, deps := range pending {
				delete(deps, c.index)
			}
			outstanding--
		}
	}

	result, err := orch.Result.Eval(env)
	if err != nil {
		j.Fail(fmt.Sprintf("result: %v", err))
		return
	}
	if err := j.CompleteWith(result); err != nil {
		logger.Debug("Result discarded", "status", j.Status())
	}
}

// receive blocks for at least one completion, then drains any others
// already queued. An idle poll returns an empty batch. It reports false
// once the job is finished or its context ends.
func (o *Orchestrator) receive(ctx context.Context, j *job.Job, done <-chan completion) ([]completion, bool) {
	timer := time.NewTimer(o.poll)
	defer timer.Stop()

	var batch []completion
	select {
	case c := <-done:
		batch = append(batch, c)
	case <-timer.C:
	case <-j.Done():
		return nil, false
	case <-ctx.Done():
		j.Cancel()
		return nil, false
	}
	for {
		select {
		case c := <-done:
			batch = append(batch, c)
		default:
			return batch, !j.IsFinished()
		}
	}
}

func wait(ctx context.Context, idx int, sub *job.Job, done chan<- completion) {
	start := time.Now()
	out, err := sub.Await(ctx)
	done <- completion{index: idx, output: out, err: err, duration: time.Since(start)}
}

// ready returns the steps with no unmet dependencies, ascending.
func ready(pending map[int]map[int]struct{}) []int {
	var idx []int
	for i, deps := range pending {
		if len(deps) == 0 {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	return idx
}

func (o *Orchestrator) recordStep(ctx context.Context, op string, success bool, d time.Duration) {
	if o.metrics == nil {
		return
	}
	adapter := "catalog"
	if engine.IsLiteralRef(op) {
		adapter, _ = engine.SplitRef(op)
	}
	o.metrics.RecordStep(ctx, adapter, success, d.Seconds())
}

func failureMessage(err error) string {
	var failed *job.FailedError
	switch {
	case errors.As(err, &failed) && failed.Message != "":
		return failed.Message
	case errors.As(err, &failed):
		return string(failed.Status)
	case errors.Is(err, job.ErrCancelled):
		return "cancelled"
	}
	return err.Error()
}

func describe(err error) string {
	var ae *apperrors.Error
	if errors.As(err, &ae) && ae.Field != "" {
		return ae.Field + ": " + ae.Message
	}
	return err.Error()
}
