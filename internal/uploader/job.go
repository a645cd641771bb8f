// Package uploader implements the chunked resumable upload engine: a
// bounded worker pool draining a persistent job queue, with per-job
// dirty-field tracking so progress survives process restarts.
package uploader

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gene9831/one-app-api/internal/database/models"
)

// Tracker wraps one upload job row and records which columns changed.
// Commit persists exactly the recorded set, nothing more, so concurrent
// workers never clobber each other's columns and a crash loses at most the
// progress since the last chunk. A tracker belongs to the single goroutine
// running its job; it is not synchronized.
type Tracker struct {
	store Store
	job   *models.UploadJob
	dirty map[string]interface{}
}

// NewTracker wraps job. The job row must already exist in the store.
func NewTracker(store Store, job *models.UploadJob) *Tracker {
	return &Tracker{
		store: store,
		job:   job,
		dirty: make(map[string]interface{}),
	}
}

// ID returns the job id.
func (t *Tracker) ID() uuid.UUID {
	return t.job.ID
}

// Job returns the wrapped row. Callers must not mutate it directly.
func (t *Tracker) Job() *models.UploadJob {
	return t.job
}

// Snapshot returns a copy of the current job state.
func (t *Tracker) Snapshot() models.UploadJob {
	return *t.job
}

// SetStatus records a status change.
func (t *Tracker) SetStatus(status string) {
	t.job.Status = status
	t.dirty["status"] = status
}

// SetSessionURL records the resumable session URL.
func (t *Tracker) SetSessionURL(url string) {
	t.job.SessionURL = url
	t.dirty["session_url"] = url
}

// SetFinishedBytes records provider-confirmed progress.
func (t *Tracker) SetFinishedBytes(n int64) {
	t.job.FinishedBytes = n
	t.dirty["finished_bytes"] = n
}

// SetSpeed records the current transfer rate in bytes per second.
func (t *Tracker) SetSpeed(bytesPerSecond int64) {
	t.job.Speed = bytesPerSecond
	t.dirty["speed"] = bytesPerSecond
}

// SetSpendSeconds records accumulated transfer time.
func (t *Tracker) SetSpendSeconds(seconds float64) {
	t.job.SpendSeconds = seconds
	t.dirty["spend_seconds"] = seconds
}

// SetErrorMessage records the failure detail shown in the status API.
func (t *Tracker) SetErrorMessage(message string) {
	t.job.ErrorMessage = message
	t.dirty["error_message"] = message
}

// SetFinishedAt stamps completion time.
func (t *Tracker) SetFinishedAt(at time.Time) {
	t.job.FinishedAt = &at
	t.dirty["finished_at"] = at
}

// Dirty returns the names of columns awaiting commit.
func (t *Tracker) Dirty() []string {
	names := make([]string, 0, len(t.dirty))
	for name := range t.dirty {
		names = append(names, name)
	}
	return names
}

// Commit persists the dirty columns and clears the set. A no-op when
// nothing changed. The set is cleared before the write so a failed commit
// does not replay stale values over newer ones on the next call.
func (t *Tracker) Commit(ctx context.Context) error {
	if len(t.dirty) == 0 {
		return nil
	}
	fields := t.dirty
	t.dirty = make(map[string]interface{})
	return t.store.UpdateUploadJobFields(ctx, t.job.ID, fields)
}
