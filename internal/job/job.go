// Package job implements the job state machine: a status record that moves
// through non-terminal states to exactly one terminal state, an optional
// completion future, and lifecycle hooks observed by the engine.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Misuse and signalling errors.
var (
	// ErrCancelled resolves the completion future of a cancelled job.
	ErrCancelled = errors.New("job cancelled")

	ErrFutureAttached  = errors.New("job already has a completion future")
	ErrAlreadyFinished = errors.New("job already finished")
	ErrNotComplete     = errors.New("job is not complete")
)

// FailedError resolves the completion future of a job that finished in a
// terminal status other than COMPLETE or CANCELLED.
type FailedError struct {
	ID      string
	Status  Status
	Message string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s finished with status %s", e.ID, e.Status)
	}
	return fmt.Sprintf("job %s finished with status %s: %s", e.ID, e.Status, e.Message)
}

// Hooks observe job transitions. OnFinish fires once, for the terminal
// transition; OnUpdate fires for every other accepted update. Hooks run
// while the job is locked, so they must not call back into the Job.
type Hooks struct {
	OnUpdate func(Record)
	OnFinish func(Record)
}

// Job tracks one operation invocation. All methods are safe for concurrent
// use; updates to a single job are linearized.
//
// Input and output values are shared, not copied, and must be treated as
// immutable once handed to a Job.
type Job struct {
	mu       sync.Mutex
	rec      Record
	future   *Future
	hooks    Hooks
	now      func() time.Time
	finished chan struct{}

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// New creates a job from an initial record. An empty status becomes
// PENDING. The engine always starts jobs non-terminal; a remote mirror may
// start from whatever the venue last reported.
func New(rec Record, hooks Hooks) *Job {
	j := &Job{
		hooks:     hooks,
		now:       time.Now,
		finished:  make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	now := j.now().UnixMilli()
	if rec.Created == 0 {
		rec.Created = now
	}
	if rec.Updated == 0 {
		rec.Updated = rec.Created
	}
	j.rec = rec.Normalize()
	if j.rec.IsFinished() {
		close(j.finished)
	}
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.ID
}

// Record returns a snapshot of the status record.
func (j *Job) Record() Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Status
}

// IsFinished reports whether the job reached a terminal status.
func (j *Job) IsFinished() bool {
	return j.Status().IsFinished()
}

// IsPaused reports whether the job is blocked on an external event.
func (j *Job) IsPaused() bool {
	return j.Status().IsPaused()
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.finished
}

// Cancelled is closed when Cancel is called on a running job. Adapters
// select on it to stop early; cancellation is never forced on them.
func (j *Job) Cancelled() <-chan struct{} {
	return j.cancelled
}

// UpdateData replaces the status record. It is a no-op returning false
// once the job is finished or when rec carries an unknown status. The job keeps ownership of its id, creation
// time, operation, input and name when the update leaves them empty.
func (j *Job) UpdateData(rec Record) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.applyLocked(rec)
}

// SetStatus moves the job to a non-terminal status such as STARTED or
// INPUT_REQUIRED. Use Fail, CompleteWith or Cancel for terminal states.
func (j *Job) SetStatus(status Status) bool {
	if status.IsFinished() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := j.rec
	rec.Status = status
	rec.Updated = 0
	return j.applyLocked(rec)
}

// Fail moves the job to FAILED with the given message. It is a no-op
// returning false if the job is already finished.
func (j *Job) Fail(message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := j.rec
	rec.Status = StatusFailed
	rec.Error = message
	rec.Updated = 0
	return j.applyLocked(rec)
}

// CompleteWith moves the job to COMPLETE with the given output. Completing
// a finished job is a caller bug and returns ErrAlreadyFinished.
func (j *Job) CompleteWith(output any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.IsFinished() {
		return fmt.Errorf("complete job %s: %w (status %s)", j.rec.ID, ErrAlreadyFinished, j.rec.Status)
	}
	rec := j.rec
	rec.Status = StatusComplete
	rec.Output = output
	rec.Updated = 0
	j.applyLocked(rec)
	return nil
}

// Cancel moves a running job to CANCELLED, closes Cancelled and rejects
// the completion future with ErrCancelled. It returns false if the job
// had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.IsFinished() {
		return false
	}
	j.cancelOnce.Do(func() { close(j.cancelled) })
	rec := j.rec
	rec.Status = StatusCancelled
	rec.Updated = 0
	return j.applyLocked(rec)
}

// SetFuture attaches a completion future. A future can be attached only
// once; if the job is already finished the future resolves immediately.
func (j *Job) SetFuture(f *Future) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.future != nil {
		return ErrFutureAttached
	}
	j.future = f
	if j.rec.IsFinished() {
		j.settleLocked()
	}
	return nil
}

// Await blocks until the job finishes and returns its output. A failed
// job returns *FailedError and a cancelled one ErrCancelled. If no
// future is attached one is created.
func (j *Job) Await(ctx context.Context) (any, error) {
	j.mu.Lock()
	if j.future == nil {
		j.future = NewFuture()
		if j.rec.IsFinished() {
			j.settleLocked()
		}
	}
	f := j.future
	j.mu.Unlock()
	return f.Await(ctx)
}

// Output returns the result of a COMPLETE job.
func (j *Job) Output() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.Status != StatusComplete {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotComplete, j.rec.ID, j.rec.Status)
	}
	return j.rec.Output, nil
}

// ErrorMessage returns the failure message of a FAILED job and an empty
// string in any other status.
func (j *Job) ErrorMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rec.Status != StatusFailed {
		return ""
	}
	return j.rec.Error
}

func (j *Job) applyLocked(rec Record) bool {
	if j.rec.IsFinished() {
		return false
	}
	if rec.Status == "" {
		rec.Status = j.rec.Status
	}
	if !rec.Status.Valid() {
		return false
	}
	rec.ID = j.rec.ID
	rec.Created = j.rec.Created
	if rec.Op == "" {
		rec.Op = j.rec.Op
	}
	if rec.Input == nil {
		rec.Input = j.rec.Input
	}
	if rec.Name == "" {
		rec.Name = j.rec.Name
	}
	if rec.Updated == 0 {
		rec.Updated = j.now().UnixMilli()
	}
	j.rec = rec.Normalize()

	if j.rec.IsFinished() {
		close(j.finished)
		j.settleLocked()
		if j.hooks.OnFinish != nil {
			j.hooks.OnFinish(j.rec)
		}
		return true
	}
	if j.hooks.OnUpdate != nil {
		j.hooks.OnUpdate(j.rec)
	}
	return true
}

func (j *Job) settleLocked() {
	if j.future == nil {
		return
	}
	switch j.rec.Status {
	case StatusComplete:
		j.future.Resolve(j.rec.Output)
	case StatusCancelled:
		j.future.Reject(ErrCancelled)
	default:
		j.future.Reject(&FailedError{ID: j.rec.ID, Status: j.rec.Status, Message: j.rec.Error})
	}
}
