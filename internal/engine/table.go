package engine

import (
	"slices"
	"strings"
	"sync"
	"venue/internal/apperrors"
	"venue/internal/job"
)

// entry holds the job table's view of one job.
type entry struct {
	job *job.Job
	rec job.Record
}

// table is the job table. It keeps its own copy of every record and
// refuses writes to finished records inside the same critical section, so
// the table and the Job objects cannot diverge.
type table struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

func newTable() *table {
	return &table{
		jobs: make(map[string]*entry),
	}
}

// insert registers a new job. IDs are unique, so a clash is a bug.
func (t *table) insert(e *entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.jobs[e.rec.ID]; exists {
		return apperrors.Conflict("job", e.rec.ID, "job already exists")
	}
	t.jobs[e.rec.ID] = e
	return nil
}

// update stores rec unless the stored record is already finished.
func (t *table) update(rec job.Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[rec.ID]
	if !ok || e.rec.IsFinished() {
		return false
	}
	e.rec = rec
	return true
}

// get retrieves an entry and a snapshot of its record.
func (t *table) get(id string) (*entry, job.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.jobs[id]
	if !ok {
		return nil, job.Record{}, false
	}
	return e, e.rec, true
}

// remove deletes a finished job. Running jobs are a conflict.
func (t *table) remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if !e.rec.IsFinished() {
		return apperrors.Conflict("job", id, "job is still running")
	}
	delete(t.jobs, id)
	return nil
}

// records returns all records ordered by ID, which is creation order.
func (t *table) records() []job.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]job.Record, 0, len(t.jobs))
	for _, e := range t.jobs {
		result = append(result, e.rec)
	}
	slices.SortFunc(result, func(a, b job.Record) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// running returns the jobs not yet finished.
func (t *table) running() []*entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*entry
	for _, e := range t.jobs {
		if !e.rec.IsFinished() {
			result = append(result, e)
		}
	}
	return result
}
