package job

import (
	"fmt"
	"slices"
	"time"
	"venue/pkg/cloudevent"
)

// Event types for job lifecycle callbacks
const (
	EventTypeUpdate = "venue.job.update"
	EventTypeFinish = "venue.job.finish"
)

// EventSource identifies this service in CloudEvent envelopes.
const EventSource = "venue/engine"

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for one job. It is not safe for
// concurrent use; the engine calls it from job hooks, which are serialized.
type EventBuilder struct {
	source string
	jobID  string
	seq    int
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(jobID, source string) *EventBuilder {
	return &EventBuilder{source: source, jobID: jobID}
}

// Build wraps a record in a CloudEvent of the given type. Event IDs are
// unique per job: the job ID, a sequence number and the status.
func (b *EventBuilder) Build(eventType string, rec Record) *cloudevent.CloudEvent {
	b.seq++
	eventID := fmt.Sprintf("%s-%d-%s", b.jobID, b.seq, rec.Status)
	data := map[string]any{
		"jobId":   rec.ID,
		"op":      rec.Op,
		"status":  string(rec.Status),
		"updated": rec.Updated,
	}
	if rec.Name != "" {
		data["name"] = rec.Name
	}
	if rec.Status == StatusComplete {
		data["output"] = rec.Output
	}
	if rec.Error != "" {
		data["error"] = rec.Error
	}
	event := cloudevent.New(eventType, b.source, b.jobID, eventID, data)
	if rec.Updated > 0 {
		event.Time = time.UnixMilli(rec.Updated).UTC()
	}
	return event
}

// ForRecord picks the event type matching the record's status.
func (b *EventBuilder) ForRecord(rec Record) *cloudevent.CloudEvent {
	if rec.IsFinished() {
		return b.Build(EventTypeFinish, rec)
	}
	return b.Build(EventTypeUpdate, rec)
}
