package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound means the venue does not know the job ID.
	ErrJobNotFound = errors.New("remote job not found")
	// ErrPollingFailed classifies transport failures while polling. It
	// never means the remote job itself failed.
	ErrPollingFailed = errors.New("polling failed")
	// ErrUnknownStatus means the venue reported a status outside the job
	// lifecycle.
	ErrUnknownStatus = errors.New("unknown job status")
)

// PollError is a status fetch that failed at the transport level or
// returned a record the client cannot apply.
type PollError struct {
	JobID string
	Cause error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("polling job %s failed: %v", e.JobID, e.Cause)
}

func (e *PollError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrPollingFailed) hold for any PollError.
func (e *PollError) Is(target error) bool { return target == ErrPollingFailed }

// APIError is a non-2xx response from the venue.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("venue returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("venue returned HTTP %d: %s", e.StatusCode, e.Message)
}
