package job

// Record is the status record of a job, as stored in the job table and
// returned over the wire.
type Record struct {
	ID      string `json:"id"`
	Op      string `json:"op"`
	Status  Status `json:"status"`
	Input   any    `json:"input"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Created int64  `json:"created"` // Unix milliseconds
	Updated int64  `json:"updated"` // Unix milliseconds
	Name    string `json:"name,omitempty"`
}

// Normalize drops fields the status does not allow: output exists only
// for COMPLETE and an error message only for FAILED or REJECTED.
func (r Record) Normalize() Record {
	if r.Status != StatusComplete {
		r.Output = nil
	}
	if !r.Status.IsFailure() {
		r.Error = ""
	}
	return r
}

// IsFinished reports whether the record is in a terminal status.
func (r Record) IsFinished() bool {
	return r.Status.IsFinished()
}
