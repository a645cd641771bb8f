package uploader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
)

// recordingStore is an in-memory Store capturing every field update.
type recordingStore struct {
	mu      sync.Mutex
	drives  map[string]*models.Drive
	jobs    map[uuid.UUID]*models.UploadJob
	updates []map[string]interface{}

	updateErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		drives: make(map[string]*models.Drive),
		jobs:   make(map[uuid.UUID]*models.UploadJob),
	}
}

func (r *recordingStore) GetDrive(ctx context.Context, id string) (*models.Drive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drive, ok := r.drives[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *drive
	return &copied, nil
}

func (r *recordingStore) CreateUploadJob(ctx context.Context, job *models.UploadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *recordingStore) GetUploadJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *recordingStore) UpdateUploadJobFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, fields)
	job, ok := r.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	if v, ok := fields["status"].(string); ok {
		job.Status = v
	}
	if v, ok := fields["session_url"].(string); ok {
		job.SessionURL = v
	}
	if v, ok := fields["finished_bytes"].(int64); ok {
		job.FinishedBytes = v
	}
	if v, ok := fields["error_message"].(string); ok {
		job.ErrorMessage = v
	}
	return nil
}

func (r *recordingStore) DeleteUploadJob(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *recordingStore) ListUploadJobs(ctx context.Context, filter database.UploadJobFilter) ([]models.UploadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadJob
	for _, job := range r.jobs {
		if filter.DriveID != "" && job.DriveID != filter.DriveID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (r *recordingStore) ResetOrphanedUploadJobs(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status == models.UploadStatusRunning || job.Status == models.UploadStatusPending {
			job.Status = models.UploadStatusStopped
			n++
		}
	}
	return n, nil
}

func (r *recordingStore) lastUpdate() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

var _ Store = (*recordingStore)(nil)

func TestTracker_CommitsExactlyTheDirtySet(t *testing.T) {
	store := newRecordingStore()
	job := &models.UploadJob{ID: uuid.New(), Size: 100}
	store.jobs[job.ID] = job

	tracker := NewTracker(store, job)
	tracker.SetStatus(models.UploadStatusRunning)
	tracker.SetFinishedBytes(50)

	assert.ElementsMatch(t, []string{"status", "finished_bytes"}, tracker.Dirty())
	require.NoError(t, tracker.Commit(context.Background()))

	require.Len(t, store.updates, 1)
	assert.Equal(t, map[string]interface{}{
		"status":         models.UploadStatusRunning,
		"finished_bytes": int64(50),
	}, store.updates[0])
	assert.Empty(t, tracker.Dirty())
}

func TestTracker_CommitWithoutChangesIsNoOp(t *testing.T) {
	store := newRecordingStore()
	job := &models.UploadJob{ID: uuid.New()}
	store.jobs[job.ID] = job

	tracker := NewTracker(store, job)
	require.NoError(t, tracker.Commit(context.Background()))
	assert.Empty(t, store.updates)
}

func TestTracker_FailedCommitDoesNotReplayStaleValues(t *testing.T) {
	store := newRecordingStore()
	job := &models.UploadJob{ID: uuid.New(), Size: 100}
	store.jobs[job.ID] = job

	tracker := NewTracker(store, job)
	tracker.SetFinishedBytes(10)

	store.updateErr = errors.New("db gone")
	require.Error(t, tracker.Commit(context.Background()))
	store.updateErr = nil

	// The old value must not ride along with the next commit.
	tracker.SetStatus(models.UploadStatusStopped)
	require.NoError(t, tracker.Commit(context.Background()))

	require.Len(t, store.updates, 1)
	assert.Equal(t, map[string]interface{}{"status": models.UploadStatusStopped}, store.updates[0])
}

func TestTracker_SettersMutateTheSnapshot(t *testing.T) {
	store := newRecordingStore()
	job := &models.UploadJob{ID: uuid.New(), Size: 100}
	store.jobs[job.ID] = job

	tracker := NewTracker(store, job)
	now := time.Now()
	tracker.SetStatus(models.UploadStatusFinished)
	tracker.SetSessionURL("https://upload.example/s/1")
	tracker.SetSpeed(1024)
	tracker.SetSpendSeconds(2.5)
	tracker.SetErrorMessage("boom")
	tracker.SetFinishedAt(now)

	snap := tracker.Snapshot()
	assert.Equal(t, models.UploadStatusFinished, snap.Status)
	assert.Equal(t, "https://upload.example/s/1", snap.SessionURL)
	assert.Equal(t, int64(1024), snap.Speed)
	assert.Equal(t, 2.5, snap.SpendSeconds)
	assert.Equal(t, "boom", snap.ErrorMessage)
	require.NotNil(t, snap.FinishedAt)
	assert.Equal(t, now, *snap.FinishedAt)
}
