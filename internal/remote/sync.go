package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"venue/internal/job"
	"venue/pkg/backoff"
)

// Poll outcomes reported to metrics.
const (
	outcomePending  = "pending"
	outcomeFinished = "finished"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// Sync polls the venue until the mirror j is finished, applying every
// fetched record to it. Delays start at the initial poll interval and
// grow by the poll factor after each unfinished fetch.
//
// It returns nil iff the job ends COMPLETE; otherwise *job.FailedError or
// job.ErrCancelled. Transport failures return a *PollError and an unknown
// job ErrJobNotFound; neither touches the mirror. A record with an unknown
// status is a *PollError wrapping ErrUnknownStatus. If ctx ends the mirror
// is cancelled locally and polling stops.
func (c *Client) Sync(ctx context.Context, j *job.Job) error {
	logger := slog.With("component", "remote", "venue", c.name, "jobId", j.ID())
	delays := backoff.NewSequence(c.pollInitial, c.pollFactor, c.pollMax)

	for {
		if j.IsFinished() {
			return finalError(j)
		}

		rec, err := c.poll(ctx, j.ID())
		switch {
		case err == nil:
		case ctx.Err() != nil:
			j.Cancel()
			return ctx.Err()
		case isNotFound(err):
			return fmt.Errorf("sync job %s: %w", j.ID(), ErrJobNotFound)
		default:
			logger.Warn("Status poll failed", "error", err)
			return &PollError{JobID: j.ID(), Cause: err}
		}

		if !rec.Status.Valid() {
			logger.Warn("Venue reported an unknown status", "status", rec.Status)
			return &PollError{JobID: j.ID(), Cause: fmt.Errorf("%w %q", ErrUnknownStatus, rec.Status)}
		}

		j.UpdateData(rec)
		if j.IsFinished() {
			return finalError(j)
		}

		delay := delays.Next()
		logger.Debug("Job not finished, backing off", "status", rec.Status, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			j.Cancel()
			return err
		}
	}
}

// poll fetches once through the breaker and records the outcome.
func (c *Client) poll(ctx context.Context, id string) (job.Record, error) {
	var rec job.Record
	err := c.breaker.Do(func() error {
		var fetchErr error
		rec, fetchErr = c.Fetch(ctx, id)
		return fetchErr
	}, func(err error) bool {
		var apiErr *APIError
		return isNotFound(err) || (errors.As(err, &apiErr) && apiErr.StatusCode < 500)
	})

	outcome := outcomePending
	switch {
	case isNotFound(err):
		outcome = outcomeNotFound
	case err != nil:
		outcome = outcomeError
	case rec.IsFinished():
		outcome = outcomeFinished
	}
	if c.metrics != nil {
		c.metrics.RecordRemotePoll(ctx, c.name, outcome)
	}
	return rec, err
}

// finalError maps a finished mirror to Sync's result.
func finalError(j *job.Job) error {
	if j.Status() == job.StatusComplete {
		return nil
	}
	_, err := j.Await(context.Background())
	return err
}
