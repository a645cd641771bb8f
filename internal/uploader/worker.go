package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/internal/syncer"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// Worker drives one upload job through the resumable session protocol:
// create or probe the session, send chunks from the provider's next
// expected offset, and finish when the provider answers with the created
// item. Transient provider failures re-probe and continue; a 4xx answer is
// fatal for the job.
type Worker struct {
	store      Store
	client     Client
	tokens     TokenSource
	syncs      SyncTrigger
	log        *logger.Logger
	tracer     trace.Tracer
	chunkSize  int64
	retryDelay time.Duration
}

// WorkerConfig sizes the chunk protocol.
type WorkerConfig struct {
	// ChunkSize is the byte length of every chunk but the last.
	ChunkSize int64
	// RetryDelay is the pause before re-probing after a transient failure.
	RetryDelay time.Duration
}

// NewWorker creates a worker.
func NewWorker(store Store, client Client, tokens TokenSource, syncs SyncTrigger, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Worker{
		store:      store,
		client:     client,
		tokens:     tokens,
		syncs:      syncs,
		log:        log,
		tracer:     otel.Tracer("upload-worker"),
		chunkSize:  cfg.ChunkSize,
		retryDelay: cfg.RetryDelay,
	}
}

// Run executes one job to a terminal state. It is the only writer of the
// job row while running.
func (w *Worker) Run(ctx context.Context, jobID uuid.UUID, ctl *Control) {
	ctx, span := w.tracer.Start(ctx, "uploader.run",
		trace.WithAttributes(attribute.String("job.id", jobID.String())))
	defer span.End()

	job, err := w.store.GetUploadJob(ctx, jobID)
	if err != nil {
		w.log.WithError(err).Error("upload job %s vanished before start", jobID)
		return
	}
	tracker := NewTracker(w.store, job)

	log := w.log.WithFields(map[string]interface{}{
		"job_id":   jobID.String(),
		"drive_id": job.DriveID,
		"file":     job.Filename,
	})

	tracker.SetStatus(models.UploadStatusRunning)
	tracker.SetErrorMessage("")
	if err := tracker.Commit(ctx); err != nil {
		log.WithError(err).Error("failed to mark upload job running")
		return
	}

	if err := w.upload(ctx, tracker, ctl, log); err != nil {
		span.RecordError(err)
		if ctl.DeleteRequested() {
			// DeleteJob cancels the task context, so a delete issued while
			// a chunk is in flight surfaces here as the upload error. The
			// delete still wins: drop the row instead of recording a
			// failure.
			if discardErr := w.discard(tracker, log); discardErr != nil {
				log.WithError(discardErr).Error("failed to discard deleted upload")
			}
			return
		}
		if ctx.Err() != nil {
			// Process shutdown. Park the job; orphan recovery is the
			// safety net if this commit never lands.
			tracker.SetStatus(models.UploadStatusStopped)
			tracker.Commit(context.Background())
			return
		}
		tracker.SetStatus(models.UploadStatusError)
		tracker.SetErrorMessage(err.Error())
		if commitErr := tracker.Commit(context.Background()); commitErr != nil {
			log.WithError(commitErr).Error("failed to record upload failure")
		}
		log.WithError(err).Error("upload failed")
	}
}

func (w *Worker) upload(ctx context.Context, tracker *Tracker, ctl *Control, log *logger.Logger) error {
	job := tracker.Job()

	file, err := os.Open(job.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if info.Size() != job.Size {
		return fmt.Errorf("local file size changed: have %d, job recorded %d", info.Size(), job.Size)
	}

	offset, err := w.prepareSession(ctx, tracker)
	if err != nil {
		return err
	}

	buf := make([]byte, w.chunkSize)
	started := time.Now()
	startOffset := offset
	baseSpend := job.SpendSeconds

	for offset < job.Size {
		if ctl.DeleteRequested() {
			return w.discard(tracker, log)
		}
		if ctl.StopRequested() {
			tracker.SetStatus(models.UploadStatusStopped)
			if err := tracker.Commit(context.Background()); err != nil {
				return fmt.Errorf("failed to park stopped job: %w", err)
			}
			log.Info("upload stopped at byte %d", offset)
			return nil
		}

		chunkLen := w.chunkSize
		if remaining := job.Size - offset; remaining < chunkLen {
			chunkLen = remaining
		}
		if _, err := file.ReadAt(buf[:chunkLen], offset); err != nil {
			return fmt.Errorf("failed to read chunk at %d: %w", offset, err)
		}

		result, err := w.client.PutChunk(ctx, job.SessionURL, offset, job.Size, buf[:chunkLen])
		if err != nil {
			var apiErr *graph.APIError
			if errors.As(err, &apiErr) && apiErr.IsClientError() {
				return fmt.Errorf("provider rejected chunk: %w", err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			log.WithError(err).Warn("chunk upload failed, re-probing session")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryDelay):
			}

			offset, err = w.probeOffset(ctx, job.SessionURL)
			if err != nil {
				return err
			}
			continue
		}

		if result.Completed {
			offset = job.Size
		} else {
			offset = result.NextOffset
		}

		elapsed := time.Since(started).Seconds()
		tracker.SetFinishedBytes(offset)
		tracker.SetSpendSeconds(baseSpend + elapsed)
		if elapsed > 0 {
			tracker.SetSpeed(int64(float64(offset-startOffset) / elapsed))
		}
		if result.Completed {
			now := time.Now()
			tracker.SetStatus(models.UploadStatusFinished)
			tracker.SetFinishedAt(now)
		}
		if err := tracker.Commit(ctx); err != nil {
			return fmt.Errorf("failed to persist progress: %w", err)
		}
	}

	if tracker.Job().Status != models.UploadStatusFinished {
		// All bytes accepted but the provider never returned the item.
		return fmt.Errorf("upload consumed every byte without completing")
	}

	log.Info("upload finished in %.1fs", tracker.Job().SpendSeconds)

	// The new file shows up in the next delta walk; trigger one now so the
	// catalog reflects the upload immediately.
	go func(driveID string) {
		if _, err := w.syncs.Sync(context.Background(), driveID, false); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
			w.log.WithError(err).Warn("post-upload sync failed for drive %s", driveID)
		}
	}(job.DriveID)

	return nil
}

// prepareSession returns the offset to resume from, creating or replacing
// the session as needed. The probe answer is authoritative over the stored
// finished counter.
func (w *Worker) prepareSession(ctx context.Context, tracker *Tracker) (int64, error) {
	job := tracker.Job()

	if job.SessionURL != "" {
		session, err := w.client.SessionStatus(ctx, job.SessionURL)
		if err == nil {
			offset, rangeErr := session.NextExpectedOffset()
			if rangeErr == nil {
				return offset, nil
			}
		} else {
			var apiErr *graph.APIError
			if !errors.As(err, &apiErr) || !apiErr.IsClientError() {
				return 0, fmt.Errorf("failed to probe upload session: %w", err)
			}
			// Session expired or revoked; fall through to a fresh one.
		}
	}

	token, err := w.tokens.Token(ctx, job.DriveID)
	if err != nil {
		return 0, fmt.Errorf("failed to obtain access token: %w", err)
	}

	remotePath := path.Join(job.RemotePath, job.Filename)
	session, err := w.client.CreateUploadSession(ctx, token, remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload session: %w", err)
	}

	tracker.SetSessionURL(session.UploadURL)
	tracker.SetFinishedBytes(0)
	if err := tracker.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to persist upload session: %w", err)
	}
	return 0, nil
}

func (w *Worker) probeOffset(ctx context.Context, sessionURL string) (int64, error) {
	session, err := w.client.SessionStatus(ctx, sessionURL)
	if err != nil {
		return 0, fmt.Errorf("failed to probe upload session: %w", err)
	}
	offset, err := session.NextExpectedOffset()
	if err != nil {
		return 0, err
	}
	return offset, nil
}

// discard handles a delete request observed mid-run: revoke the session
// and drop the row. Session revocation is best effort.
func (w *Worker) discard(tracker *Tracker, log *logger.Logger) error {
	ctx := context.Background()
	job := tracker.Job()

	if job.SessionURL != "" {
		if err := w.client.CancelSession(ctx, job.SessionURL); err != nil {
			log.WithError(err).Warn("failed to revoke upload session")
		}
	}
	if err := w.store.DeleteUploadJob(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to delete upload job: %w", err)
	}
	log.Info("upload deleted")
	return nil
}
