package builtin

import (
	"context"
	"errors"
	"testing"
	"time"
	"venue/internal/engine"
	"venue/internal/job"
	"venue/internal/testutil"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Config{})
	if err := e.RegisterAdapter(NewTestAdapter(8)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

func await(t *testing.T, j *job.Job) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.Await(ctx)
}

func TestEcho(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"object", map[string]any{"message": "hi"}, "hi"},
		{"scalar", "v", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, err := e.InvokeOperation(context.Background(), "test:echo", tt.input)
			if err != nil {
				t.Fatal(err)
			}
			out, err := await(t, j)
			if err != nil {
				t.Fatalf("Await() error = %v", err)
			}
			if j.Status() != job.StatusComplete {
				t.Errorf("status = %s, want COMPLETE", j.Status())
			}
			if got := out.(map[string]any)["message"]; got != tt.want {
				t.Errorf("output.message = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	tests := []struct {
		input any
		want  string
	}{
		{map[string]any{"message": "boom"}, "boom"},
		{nil, "error"},
	}
	for _, tt := range tests {
		j, err := e.InvokeOperation(context.Background(), "test:error", tt.input)
		if err != nil {
			t.Fatal(err)
		}
		_, err = await(t, j)
		var failed *job.FailedError
		if !errors.As(err, &failed) {
			t.Fatalf("Await() error = %v, want *job.FailedError", err)
		}
		if j.Status() != job.StatusFailed || j.ErrorMessage() != tt.want {
			t.Errorf("got %s %q, want FAILED %q", j.Status(), j.ErrorMessage(), tt.want)
		}
	}
}

func TestDelay(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	start := time.Now()
	j, err := e.InvokeOperation(context.Background(), "test:delay", map[string]any{"millis": float64(30), "message": "late"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := await(t, j)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("delay returned after %v", elapsed)
	}
	if out.(map[string]any)["message"] != "late" {
		t.Errorf("output = %v", out)
	}
}

func TestNever_Cancel(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	j, err := e.InvokeOperation(context.Background(), "test:never", nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.MustWaitFor(t, func() bool { return j.Status() == job.StatusStarted })

	if _, err := e.CancelJob(j.ID()); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if _, err := await(t, j); !errors.Is(err, job.ErrCancelled) {
		t.Errorf("Await() error = %v, want ErrCancelled", err)
	}
	// Late updates from the adapter are ignored.
	if j.UpdateData(job.Record{Status: job.StatusComplete, Output: "x"}) {
		t.Error("UpdateData() after cancel = true")
	}
	if j.Status() != job.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", j.Status())
	}
}
