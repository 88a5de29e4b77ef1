package job

import (
	"fmt"
	"strings"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusStarted       Status = "STARTED"
	StatusInputRequired Status = "INPUT_REQUIRED"
	StatusAuthRequired  Status = "AUTH_REQUIRED"
	StatusPaused        Status = "PAUSED"
	StatusComplete      Status = "COMPLETE"
	StatusFailed        Status = "FAILED"
	StatusCancelled     Status = "CANCELLED"
	StatusTimeout       Status = "TIMEOUT"
	StatusRejected      Status = "REJECTED"
)

var allStatuses = []Status{
	StatusPending, StatusStarted, StatusInputRequired, StatusAuthRequired, StatusPaused,
	StatusComplete, StatusFailed, StatusCancelled, StatusTimeout, StatusRejected,
}

// IsFinished reports whether s is terminal. No transition leaves a terminal status.
func (s Status) IsFinished() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusTimeout, StatusRejected:
		return true
	}
	return false
}

// IsPaused reports whether s is blocked on something outside the venue,
// such as user input or credentials. Paused jobs are not finished.
func (s Status) IsPaused() bool {
	switch s {
	case StatusInputRequired, StatusAuthRequired, StatusPaused:
		return true
	}
	return false
}

// IsFailure reports whether s carries an error message.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name, ignoring case.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return status, nil
}
