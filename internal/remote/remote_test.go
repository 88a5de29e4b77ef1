package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"venue/internal/job"
	"venue/pkg/circuitbreaker"
)

const remoteID = "0190cafe0000000000000000deadbeef"

// fakeVenue serves the subset of the venue API the client uses. GET
// returns the scripted records in order, repeating the last one.
type fakeVenue struct {
	mu        sync.Mutex
	script    []job.Record
	submitted []invokeRequest
	auth      []string

	fetches   atomic.Int64
	cancelled atomic.Int64
	status    int // forced status for GET, 0 = normal
}

func (f *fakeVenue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/invoke":
		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Operation == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation is required"})
			return
		}
		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, job.Record{ID: remoteID, Op: req.Operation, Status: job.StatusPending, Input: req.Input, Created: 1, Updated: 1})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/"+remoteID:
		n := int(f.fetches.Add(1))
		if f.status != 0 {
			writeJSON(w, f.status, map[string]string{"error": "unavailable"})
			return
		}
		f.mu.Lock()
		rec := f.script[min(n, len(f.script))-1]
		f.mu.Unlock()
		rec.ID = remoteID
		writeJSON(w, http.StatusOK, rec)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/jobs/"+remoteID+"/cancel":
		f.cancelled.Add(1)
		writeJSON(w, http.StatusOK, job.Record{ID: remoteID, Status: job.StatusCancelled})
	case r.Method == http.MethodGet && r.URL.Path == "/livez":
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pending() job.Record { return job.Record{Status: job.StatusPending} }

func complete(out any) job.Record { return job.Record{Status: job.StatusComplete, Output: out} }

// newTestClient returns a client whose sleeps return at once and are
// recorded.
func newTestClient(t *testing.T, venue *fakeVenue, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(venue)
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	var mu sync.Mutex
	delays := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return c, delays
}

func mirror() *job.Job {
	return job.New(job.Record{ID: remoteID, Op: "test:echo", Status: job.StatusPending}, job.Hooks{})
}

func TestSync_CompletesOnThirdPoll(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending(), pending(), complete(map[string]any{"message": "hi"})}}
	c, delays := newTestClient(t, venue, Config{})

	j := mirror()
	if err := c.Sync(context.Background(), j); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if got := venue.fetches.Load(); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
	want := []time.Duration{300 * time.Millisecond, 450 * time.Millisecond}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("delays = %v, want %v", *delays, want)
	}
	out, err := j.Output()
	if err != nil || out.(map[string]any)["message"] != "hi" {
		t.Errorf("Output() = %v, %v", out, err)
	}
}

func TestSync_BackoffGrowth(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending(), pending(), pending(), pending(), pending(), complete("x")}}
	c, delays := newTestClient(t, venue, Config{PollInitial: 100 * time.Millisecond, PollFactor: 2})

	if err := c.Sync(context.Background(), mirror()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(*delays) != 5 {
		t.Fatalf("delays = %v, want 5 entries", *delays)
	}
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] != 2*(*delays)[i-1] {
			t.Errorf("delay %d = %v, want %v", i, (*delays)[i], 2*(*delays)[i-1])
		}
	}
}

func TestSync_AlreadyFinished(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending()}}
	c, _ := newTestClient(t, venue, Config{})

	j := job.New(job.Record{ID: remoteID, Status: job.StatusComplete, Output: "done"}, job.Hooks{})
	if err := c.Sync(context.Background(), j); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if venue.fetches.Load() != 0 {
		t.Errorf("fetches = %d, want 0", venue.fetches.Load())
	}
}

func TestSync_RemoteFailure(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{{Status: job.StatusFailed, Error: "boom"}}}
	c, _ := newTestClient(t, venue, Config{})

	j := mirror()
	err := c.Sync(context.Background(), j)
	var failed *job.FailedError
	if !errors.As(err, &failed) || failed.Message != "boom" {
		t.Fatalf("Sync() error = %v, want FailedError boom", err)
	}
	if errors.Is(err, ErrPollingFailed) {
		t.Error("a failed job must not look like a polling failure")
	}
	if j.ErrorMessage() != "boom" {
		t.Errorf("mirror error = %q", j.ErrorMessage())
	}
}

func TestSync_NotFound(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, &fakeVenue{}, Config{})

	j := job.New(job.Record{ID: "unknown", Status: job.StatusPending}, job.Hooks{})
	err := c.Sync(context.Background(), j)
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Sync() error = %v, want ErrJobNotFound", err)
	}
	if errors.Is(err, ErrPollingFailed) {
		t.Error("not found must not be a polling failure")
	}
	if j.IsFinished() {
		t.Errorf("mirror status = %s, want unchanged", j.Status())
	}
}

func TestSync_TransportFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(Config{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	j := mirror()
	err = c.Sync(context.Background(), j)
	var pollErr *PollError
	if !errors.As(err, &pollErr) || !errors.Is(err, ErrPollingFailed) {
		t.Fatalf("Sync() error = %v, want *PollError", err)
	}
	if j.Status() != job.StatusPending {
		t.Errorf("mirror status = %s, want PENDING", j.Status())
	}
}

func TestSync_UnknownStatus(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending(), {Status: "DONE"}}}
	c, _ := newTestClient(t, venue, Config{})

	j := mirror()
	err := c.Sync(context.Background(), j)
	var pollErr *PollError
	if !errors.As(err, &pollErr) || !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("Sync() error = %v, want *PollError wrapping ErrUnknownStatus", err)
	}
	if got := venue.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
	if j.Status() != job.StatusPending {
		t.Errorf("mirror status = %s, want PENDING", j.Status())
	}
}

func TestSync_CancelDuringSleep(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending()}}
	c, _ := newTestClient(t, venue, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	j := mirror()
	err := c.Sync(ctx, j)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sync() error = %v, want context.Canceled", err)
	}
	if j.Status() != job.StatusCancelled {
		t.Errorf("mirror status = %s, want CANCELLED", j.Status())
	}
	if venue.fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", venue.fetches.Load())
	}
}

func TestSync_BreakerOpens(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending()}, status: http.StatusBadGateway}
	c, _ := newTestClient(t, venue, Config{Breaker: circuitbreaker.Config{Threshold: 2, Cooldown: time.Hour}})

	for range 2 {
		if err := c.Sync(context.Background(), mirror()); !errors.Is(err, ErrPollingFailed) {
			t.Fatalf("Sync() error = %v, want polling failure", err)
		}
	}
	err := c.Sync(context.Background(), mirror())
	if !errors.Is(err, circuitbreaker.ErrOpen) || !errors.Is(err, ErrPollingFailed) {
		t.Fatalf("Sync() error = %v, want open breaker", err)
	}
	if got := venue.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestClient_Invoke(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{script: []job.Record{pending(), complete(map[string]any{"message": "hi"})}}
	c, _ := newTestClient(t, venue, Config{APIKey: "secret"})

	out, err := c.Invoke(context.Background(), "test:echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.(map[string]any)["message"] != "hi" {
		t.Errorf("output = %v", out)
	}

	venue.mu.Lock()
	defer venue.mu.Unlock()
	if len(venue.submitted) != 1 || venue.submitted[0].Operation != "test:echo" {
		t.Errorf("submitted = %+v", venue.submitted)
	}
	for _, h := range venue.auth {
		if h != "Bearer secret" {
			t.Errorf("Authorization = %q", h)
		}
	}
}

func TestClient_Ping(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, &fakeVenue{}, Config{})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	down, err := NewClient(Config{URL: "http://127.0.0.1:1", FetchTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := down.Ping(context.Background()); err == nil {
		t.Error("Ping() against a closed port succeeded")
	}
}

func TestClient_Cancel(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{}
	c, _ := newTestClient(t, venue, Config{})

	rec, err := c.Cancel(context.Background(), remoteID)
	if err != nil || rec.Status != job.StatusCancelled {
		t.Fatalf("Cancel() = %+v, %v", rec, err)
	}
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, &fakeVenue{}, Config{})

	_, err := c.Submit(context.Background(), "", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Submit() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Message, "operation is required") {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "localhost:8080", "ftp://venue", "http://"} {
		if _, err := NewClient(Config{URL: raw}); err == nil {
			t.Errorf("NewClient(%q) succeeded", raw)
		}
	}
	c, err := NewClient(Config{URL: "http://venue.local:8080/"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "venue.local:8080" || c.pollInitial != DefaultPollInitial || c.pollFactor != DefaultPollFactor {
		t.Errorf("defaults not applied: %+v", c)
	}
}
