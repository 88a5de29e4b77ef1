package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"venue/internal/apperrors"
	"venue/internal/engine"
	"venue/internal/job"
)

// cancelTimeout bounds the best-effort remote cancel after a local one.
const cancelTimeout = 5 * time.Second

// Adapter forwards operations to a peer venue. "peer:test:echo" runs
// "test:echo" on the venue registered as "peer", and the local job follows
// the remote one.
type Adapter struct {
	client *Client
	logger *slog.Logger
}

// NewAdapter creates a forwarding adapter named after the client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{
		client: client,
		logger: slog.With("component", "remote-adapter", "venue", client.Name()),
	}
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return a.client.Name() }

// Invoke implements engine.Adapter.
func (a *Adapter) Invoke(ctx context.Context, j *job.Job, operation string, _ engine.Metadata, input any) {
	if operation == "" {
		j.Fail(fmt.Sprintf("remote venue %s: operation is required", a.Name()))
		return
	}
	go a.forward(ctx, j, operation, input)
}

func (a *Adapter) forward(ctx context.Context, j *job.Job, operation string, input any) {
	rec, err := a.client.submit(ctx, operation, input)
	if err != nil {
		j.Fail(fmt.Sprintf("remote venue %s: %v", a.Name(), err))
		return
	}
	logger := a.logger.With("jobId", j.ID(), "remoteJobId", rec.ID)
	logger.Info("Forwarded to remote venue", "op", operation)
	j.SetStatus(job.StatusStarted)

	follow := func(r job.Record) {
		if r.Status == job.StatusPending {
			return
		}
		j.UpdateData(job.Record{Status: r.Status, Output: r.Output, Error: r.Error})
	}
	mirror := job.New(rec, job.Hooks{OnUpdate: follow, OnFinish: follow})
	if mirror.IsFinished() {
		follow(mirror.Record())
		return
	}

	err = a.client.Sync(ctx, mirror)
	switch {
	case err == nil, errors.As(err, new(*job.FailedError)), errors.Is(err, job.ErrCancelled):
		// The mirror hooks already carried the terminal record over.
	case ctx.Err() != nil:
		cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if _, err := a.client.Cancel(cancelCtx, rec.ID); err != nil {
			logger.Warn("Remote cancel failed", "error", err)
		}
	default:
		j.Fail(fmt.Sprintf("remote venue %s: %v", a.Name(), err))
	}
}

// ParseVenues parses "name=url" pairs as found in REMOTE_VENUES.
func ParseVenues(pairs []string) (map[string]string, error) {
	venues := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, rawURL, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || rawURL == "" {
			return nil, apperrors.Validationf("REMOTE_VENUES", "expected name=url, got %q", pair)
		}
		if strings.Contains(name, ":") {
			return nil, apperrors.Validationf("REMOTE_VENUES", "venue name %q must not contain ':'", name)
		}
		if _, dup := venues[name]; dup {
			return nil, apperrors.Validationf("REMOTE_VENUES", "venue %q listed twice", name)
		}
		venues[name] = strings.TrimSpace(rawURL)
	}
	return venues, nil
}
