package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestJob(hooks Hooks) *Job {
	return New(Record{ID: "0190c0ffee", Op: "test:echo", Input: map[string]any{"message": "hi"}}, hooks)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	rec := j.Record()
	if rec.Status != StatusPending {
		t.Errorf("Status = %s, want PENDING", rec.Status)
	}
	if rec.Created == 0 || rec.Updated != rec.Created {
		t.Errorf("expected created == updated > 0, got %d/%d", rec.Created, rec.Updated)
	}
	select {
	case <-j.Done():
		t.Error("Done should not be closed for a pending job")
	default:
	}
}

func TestJob_CompleteWith(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	if err := j.CompleteWith(map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("CompleteWith() error = %v", err)
	}

	out, err := j.Output()
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if out.(map[string]any)["message"] != "hi" {
		t.Errorf("unexpected output %v", out)
	}

	err = j.CompleteWith("again")
	if !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("second CompleteWith() error = %v, want ErrAlreadyFinished", err)
	}
}

func TestJob_Fail(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	if !j.Fail("boom") {
		t.Fatal("Fail() should apply to a running job")
	}
	if j.ErrorMessage() != "boom" {
		t.Errorf("ErrorMessage() = %q, want boom", j.ErrorMessage())
	}
	if _, err := j.Output(); !errors.Is(err, ErrNotComplete) {
		t.Errorf("Output() error = %v, want ErrNotComplete", err)
	}
	if j.Fail("second") {
		t.Error("Fail() on a finished job should be a no-op")
	}
	if j.ErrorMessage() != "boom" {
		t.Errorf("error message changed to %q", j.ErrorMessage())
	}
}

func TestJob_ErrorMessageOnlyForFailed(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	j.UpdateData(Record{Status: StatusRejected, Error: "policy"})
	if j.ErrorMessage() != "" {
		t.Errorf("ErrorMessage() for REJECTED = %q, want empty", j.ErrorMessage())
	}
	if j.Record().Error != "policy" {
		t.Error("record should keep the rejection message")
	}
}

func TestJob_TerminalIdempotence(t *testing.T) {
	t.Parallel()

	finishers := map[string]func(*Job){
		"complete": func(j *Job) { _ = j.CompleteWith("done") },
		"fail":     func(j *Job) { j.Fail("boom") },
		"cancel":   func(j *Job) { j.Cancel() },
		"timeout":  func(j *Job) { j.UpdateData(Record{Status: StatusTimeout}) },
	}
	attempts := map[string]func(*Job) bool{
		"update": func(j *Job) bool { return j.UpdateData(Record{Status: StatusStarted}) },
		"status": func(j *Job) bool { return j.SetStatus(StatusPaused) },
		"fail":   func(j *Job) bool { return j.Fail("late") },
		"cancel": func(j *Job) bool { return j.Cancel() },
		"complete": func(j *Job) bool {
			return j.CompleteWith("late") == nil
		},
	}

	for fname, finish := range finishers {
		for aname, attempt := range attempts {
			t.Run(fname+"/"+aname, func(t *testing.T) {
				t.Parallel()
				j := newTestJob(Hooks{})
				finish(j)
				before := j.Record()

				if attempt(j) {
					t.Error("update after terminal transition was applied")
				}
				after := j.Record()
				if after.Status != before.Status || after.Error != before.Error || after.Output != before.Output || after.Updated != before.Updated {
					t.Errorf("record changed: %+v -> %+v", before, after)
				}
			})
		}
	}
}

func TestJob_OutputErrorExclusivity(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	j.UpdateData(Record{Status: StatusStarted, Output: "early", Error: "noise"})
	rec := j.Record()
	if rec.Output != nil || rec.Error != "" {
		t.Errorf("non-terminal record kept output/error: %+v", rec)
	}

	j.UpdateData(Record{Status: StatusComplete, Output: "v", Error: "noise"})
	rec = j.Record()
	if rec.Output != "v" || rec.Error != "" {
		t.Errorf("complete record = %+v", rec)
	}
}

func TestJob_UpdateDataKeepsIdentity(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	created := j.Record().Created

	j.UpdateData(Record{ID: "other", Created: 1, Status: StatusStarted, Updated: created + 5})
	rec := j.Record()
	if rec.ID != "0190c0ffee" || rec.Created != created {
		t.Errorf("identity changed: %+v", rec)
	}
	if rec.Op != "test:echo" || rec.Input == nil {
		t.Errorf("op/input dropped: %+v", rec)
	}
	if rec.Updated != created+5 {
		t.Errorf("Updated = %d, want %d", rec.Updated, created+5)
	}
}

func TestJob_UpdateDataRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	var updates int
	j := newTestJob(Hooks{OnUpdate: func(Record) { updates++ }})
	if j.UpdateData(Record{Status: "DONE"}) {
		t.Error("UpdateData() = true for an unknown status")
	}
	if j.Status() != StatusPending || updates != 0 {
		t.Errorf("status = %s, updates = %d; want PENDING and none", j.Status(), updates)
	}
}

func TestJob_Hooks(t *testing.T) {
	t.Parallel()

	var updates, finishes []Status
	j := newTestJob(Hooks{
		OnUpdate: func(r Record) { updates = append(updates, r.Status) },
		OnFinish: func(r Record) { finishes = append(finishes, r.Status) },
	})

	j.SetStatus(StatusStarted)
	j.SetStatus(StatusInputRequired)
	if !j.IsPaused() {
		t.Error("expected INPUT_REQUIRED to be paused")
	}
	_ = j.CompleteWith("ok")
	j.Fail("ignored")

	if len(updates) != 2 || updates[0] != StatusStarted || updates[1] != StatusInputRequired {
		t.Errorf("updates = %v", updates)
	}
	if len(finishes) != 1 || finishes[0] != StatusComplete {
		t.Errorf("finishes = %v", finishes)
	}
}

func TestJob_SetFuture(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	f := NewFuture()
	if err := j.SetFuture(f); err != nil {
		t.Fatalf("SetFuture() error = %v", err)
	}
	if err := j.SetFuture(NewFuture()); !errors.Is(err, ErrFutureAttached) {
		t.Errorf("second SetFuture() error = %v, want ErrFutureAttached", err)
	}

	_ = j.CompleteWith("v")
	got, err := f.Await(context.Background())
	if err != nil || got != "v" {
		t.Errorf("Await() = %v, %v", got, err)
	}
}

func TestJob_SetFutureOnFinishedJobResolvesImmediately(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	j.Fail("boom")

	f := NewFuture()
	if err := j.SetFuture(f); err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("future should resolve immediately")
	}

	_, err := f.Await(context.Background())
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Await() error = %v, want *FailedError", err)
	}
	if failed.Status != StatusFailed || failed.Message != "boom" {
		t.Errorf("unexpected error %+v", failed)
	}
}

func TestJob_AwaitCreatesFuture(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = j.CompleteWith("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := j.Await(ctx)
	if err != nil || got != "late" {
		t.Errorf("Await() = %v, %v", got, err)
	}
	// The lazily created future counts as attached.
	if err := j.SetFuture(NewFuture()); !errors.Is(err, ErrFutureAttached) {
		t.Errorf("SetFuture() after Await error = %v", err)
	}
}

func TestJob_AwaitContextCancelled(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := j.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Await() error = %v, want context.Canceled", err)
	}
	if j.IsFinished() {
		t.Error("abandoning Await must not finish the job")
	}
}

func TestJob_CancelBeforeAdapterResolves(t *testing.T) {
	t.Parallel()

	j := newTestJob(Hooks{})
	f := NewFuture()
	_ = j.SetFuture(f)
	j.SetStatus(StatusStarted)

	if !j.Cancel() {
		t.Fatal("Cancel() should apply to a running job")
	}
	select {
	case <-j.Cancelled():
	default:
		t.Error("Cancelled channel should be closed")
	}

	_, err := f.Await(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("future error = %v, want ErrCancelled", err)
	}

	// The adapter reports back late; nothing changes.
	if j.UpdateData(Record{Status: StatusComplete, Output: "late"}) {
		t.Error("late update was applied")
	}
	if err := j.CompleteWith("late"); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("CompleteWith() error = %v", err)
	}
	if j.Status() != StatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", j.Status())
	}
}

func TestJob_ConcurrentUpdatesConverge(t *testing.T) {
	t.Parallel()

	for round := range 50 {
		var finishes atomic.Int32
		j := newTestJob(Hooks{OnFinish: func(Record) { finishes.Add(1) }})

		var wg sync.WaitGroup
		start := make(chan struct{})
		ops := []func(){
			func() { _ = j.CompleteWith(round) },
			func() { j.Fail("boom") },
			func() { j.Cancel() },
			func() { j.UpdateData(Record{Status: StatusTimeout}) },
			func() { j.SetStatus(StatusStarted) },
		}
		for _, op := range ops {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				op()
			}()
		}
		close(start)
		wg.Wait()

		if finishes.Load() != 1 {
			t.Fatalf("round %d: OnFinish fired %d times", round, finishes.Load())
		}
		if !j.IsFinished() {
			t.Fatalf("round %d: job not finished", round)
		}
		select {
		case <-j.Done():
		default:
			t.Fatalf("round %d: Done not closed", round)
		}
	}
}

func TestNew_FinishedRecord(t *testing.T) {
	t.Parallel()

	j := New(Record{ID: "x", Status: StatusComplete, Output: "v"}, Hooks{})
	select {
	case <-j.Done():
	default:
		t.Fatal("Done should be closed for a finished record")
	}
	got, err := j.Await(context.Background())
	if err != nil || got != "v" {
		t.Errorf("Await() = %v, %v", got, err)
	}
}
