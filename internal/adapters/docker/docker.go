// Package docker provides the "docker" adapter, which runs a command in a
// short-lived container on the host Docker daemon.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
	"venue/internal/engine"
	"venue/internal/job"

	"golang.org/x/sync/semaphore"
)

// Name is the adapter name.
const Name = "docker"

const (
	managedByLabel = "managed-by"
	managedByValue = "venue"
	jobIDLabel     = "job.id"

	// stderrTail is how much of stderr a failure message carries.
	stderrTail = 512
)

// Config holds configuration for the Docker adapter.
type Config struct {
	Concurrency    int64         // Containers running at once (default 8)
	DefaultTimeout time.Duration // Applied when the input has no timeoutSeconds (default 10m)
	ExtraHosts     []string      // Extra /etc/hosts entries (e.g., ["api.test:host-gateway"])
	CPU            float64       // CPU limit in cores, 0 for none
	MemoryMB       int64         // Memory limit, 0 for none
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	return c
}

// RunRequest is the input of the run operation.
type RunRequest struct {
	Image          string            `json:"image"`
	Command        string            `json:"command"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
}

// RunResult is the output of the run operation.
type RunResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Value returns the result as a JSON-like map so orchestration steps can
// reference its fields.
func (r RunResult) Value() map[string]any {
	return map[string]any{
		"exitCode": float64(r.ExitCode),
		"stdout":   r.Stdout,
		"stderr":   r.Stderr,
	}
}

// Adapter implements engine.Adapter using Docker.
type Adapter struct {
	runtime Runtime
	cfg     Config
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// New connects to the daemon from the environment (DOCKER_HOST etc.) and
// removes containers left behind by a previous process.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	d, err := newDaemon()
	if err != nil {
		return nil, err
	}
	a := NewWithRuntime(d, cfg)
	if err := a.reap(ctx); err != nil {
		a.logger.Warn("Failed to remove stale containers", "error", err)
	}
	return a, nil
}

// NewWithRuntime creates an adapter over rt.
func NewWithRuntime(rt Runtime, cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		runtime: rt,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		logger:  slog.With("component", "adapter", "adapter", Name),
	}
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return Name }

// Ready checks if the Docker daemon is reachable and responsive.
func (a *Adapter) Ready(ctx context.Context) error {
	return a.runtime.Ping(ctx)
}

// Close releases the daemon connection.
func (a *Adapter) Close() error {
	return a.runtime.Close()
}

// Invoke implements engine.Adapter.
func (a *Adapter) Invoke(ctx context.Context, j *job.Job, operation string, _ engine.Metadata, input any) {
	if operation != "run" {
		j.Fail(fmt.Sprintf("operation %q not supported by adapter %q", operation, Name))
		return
	}
	req, err := parseRunRequest(input)
	if err != nil {
		j.Fail(err.Error())
		return
	}
	go a.run(ctx, j, req)
}

func parseRunRequest(input any) (RunRequest, error) {
	var req RunRequest
	data, err := json.Marshal(input)
	if err != nil {
		return req, fmt.Errorf("invalid input: %v", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid input: %v", err)
	}
	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" {
		return req, fmt.Errorf("invalid input: image is required")
	}
	if req.TimeoutSeconds < 0 {
		return req, fmt.Errorf("invalid input: timeoutSeconds must be positive")
	}
	return req, nil
}

func (a *Adapter) run(ctx context.Context, j *job.Job, req RunRequest) {
	logger := a.logger.With("jobId", j.ID(), "image", req.Image)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		j.Fail(err.Error())
		return
	}
	defer a.sem.Release(1)

	if err := a.runtime.EnsureImage(ctx, req.Image); err != nil {
		j.Fail(fmt.Sprintf("failed to pull image %s: %v", req.Image, err))
		return
	}

	id, err := a.runtime.Create(ctx, containerSpec{
		Name:    fmt.Sprintf("venue-%s", j.ID()),
		Image:   req.Image,
		Command: req.Command,
		Env:     req.Env,
		Labels: map[string]string{
			managedByLabel: managedByValue,
			jobIDLabel:     j.ID(),
		},
		ExtraHosts: a.cfg.ExtraHosts,
		NanoCPUs:   int64(a.cfg.CPU * 1e9),
		MemoryMB:   a.cfg.MemoryMB,
	})
	if err != nil {
		j.Fail(fmt.Sprintf("failed to create container: %v", err))
		return
	}
	// Removal must outlive a cancelled job context.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		a.runtime.Remove(cleanupCtx, id)
	}()

	if err := a.runtime.Start(ctx, id); err != nil {
		j.Fail(fmt.Sprintf("failed to start container: %v", err))
		return
	}
	j.SetStatus(job.StatusStarted)
	logger.Debug("Container started", "containerId", id)
	start := time.Now()

	timeout := a.cfg.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCode, waitErr := a.runtime.Wait(waitCtx, id)
	switch {
	case ctx.Err() != nil:
		// Cancelled job or engine shutdown; the job is settled elsewhere.
		logger.Info("Container stopped", "reason", ctx.Err())
		return
	case waitCtx.Err() != nil:
		j.UpdateData(job.Record{Status: job.StatusTimeout})
		logger.Warn("Container timed out", "timeout", timeout)
		return
	case waitErr != nil:
		j.Fail(fmt.Sprintf("failed waiting for container: %v", waitErr))
		return
	}

	stdout, stderr, err := a.runtime.Logs(ctx, id)
	if err != nil {
		logger.Warn("Failed to collect container logs", "error", err)
	}
	logger.Info("Container exited", "exitCode", exitCode, "duration", time.Since(start))

	if exitCode != 0 {
		msg := fmt.Sprintf("container exited with code %d", exitCode)
		if tail := tailOf(stderr, stderrTail); tail != "" {
			msg += ": " + tail
		}
		j.Fail(msg)
		return
	}
	if err := j.CompleteWith(RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}.Value()); err != nil {
		logger.Debug("Job finished before container result", "error", err)
	}
}

// reap removes every container labelled as ours. Job state is in memory,
// so containers from an earlier process have no job to report to.
func (a *Adapter) reap(ctx context.Context) error {
	ids, err := a.runtime.Running(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a.runtime.Remove(ctx, id)
	}
	if len(ids) > 0 {
		a.logger.Info("Removed stale containers", "count", len(ids))
	}
	return nil
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
