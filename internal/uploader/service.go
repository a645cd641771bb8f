package uploader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/internal/syncer"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// MinUploadSize is the smallest file accepted. The resumable session
// protocol is not worth its round trips below this; small files are out of
// scope.
const MinUploadSize int64 = 5 * 1024 * 1024

// Store is the persistence surface the uploader needs.
type Store interface {
	GetDrive(ctx context.Context, id string) (*models.Drive, error)
	CreateUploadJob(ctx context.Context, job *models.UploadJob) error
	GetUploadJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
	UpdateUploadJobFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	DeleteUploadJob(ctx context.Context, id uuid.UUID) error
	ListUploadJobs(ctx context.Context, filter database.UploadJobFilter) ([]models.UploadJob, error)
	ResetOrphanedUploadJobs(ctx context.Context) (int64, error)
}

// Client is the provider surface the uploader needs.
type Client interface {
	CreateUploadSession(ctx context.Context, token, remotePath string) (*graph.UploadSession, error)
	SessionStatus(ctx context.Context, sessionURL string) (*graph.UploadSession, error)
	PutChunk(ctx context.Context, sessionURL string, start, total int64, data []byte) (*graph.ChunkResult, error)
	CancelSession(ctx context.Context, sessionURL string) error
}

// TokenSource yields a valid access token for a drive.
type TokenSource interface {
	Token(ctx context.Context, driveID string) (string, error)
}

// SyncTrigger kicks a delta walk after a finished upload.
type SyncTrigger interface {
	Sync(ctx context.Context, driveID string, full bool) (syncer.Counter, error)
}

// Service is the public face of the upload engine: validates and creates
// jobs, and forwards lifecycle requests to the pool.
type Service struct {
	store  Store
	client Client
	pool   *Pool
	log    *logger.Logger
}

// NewService creates the upload service.
func NewService(store Store, client Client, pool *Pool, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		pool:   pool,
		log:    log,
	}
}

// Recover flips jobs orphaned by a previous process into stopped. Must run
// before the pool starts accepting work.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.store.ResetOrphanedUploadJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("parked %d orphaned upload jobs", n)
	}
	return nil
}

// EnqueueFile validates localPath and queues one upload job targeting the
// remotePath folder of the drive.
func (s *Service) EnqueueFile(ctx context.Context, driveID, localPath, remotePath string) (*models.UploadJob, error) {
	if _, err := s.store.GetDrive(ctx, driveID); err != nil {
		return nil, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("local file not accessible: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", localPath)
	}
	if info.Size() < MinUploadSize {
		return nil, fmt.Errorf("%s is smaller than the %d byte minimum", localPath, MinUploadSize)
	}

	job := &models.UploadJob{
		ID:         uuid.New(),
		DriveID:    driveID,
		LocalPath:  localPath,
		RemotePath: normalizeRemotePath(remotePath),
		Filename:   filepath.Base(localPath),
		Size:       info.Size(),
		Status:     models.UploadStatusPending,
	}
	if err := s.store.CreateUploadJob(ctx, job); err != nil {
		return nil, err
	}

	s.pool.Enqueue(job.ID)
	return job, nil
}

// EnqueueFolder walks localDir and queues one job per eligible file,
// mirroring the directory layout under remotePath. Files below the size
// minimum are skipped, not failed.
func (s *Service) EnqueueFolder(ctx context.Context, driveID, localDir, remotePath string) ([]models.UploadJob, int, error) {
	if _, err := s.store.GetDrive(ctx, driveID); err != nil {
		return nil, 0, err
	}

	root, err := os.Stat(localDir)
	if err != nil {
		return nil, 0, fmt.Errorf("local directory not accessible: %w", err)
	}
	if !root.IsDir() {
		return nil, 0, fmt.Errorf("%s is not a directory", localDir)
	}

	remotePath = normalizeRemotePath(remotePath)
	base := path.Join(remotePath, filepath.Base(localDir))

	var jobs []models.UploadJob
	skipped := 0

	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || info.Size() < MinUploadSize {
			skipped++
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remoteDir := base
		if dir := filepath.Dir(rel); dir != "." {
			remoteDir = path.Join(base, filepath.ToSlash(dir))
		}

		job := &models.UploadJob{
			ID:         uuid.New(),
			DriveID:    driveID,
			LocalPath:  p,
			RemotePath: remoteDir,
			Filename:   d.Name(),
			Size:       info.Size(),
			Status:     models.UploadStatusPending,
		}
		if err := s.store.CreateUploadJob(ctx, job); err != nil {
			return err
		}
		s.pool.Enqueue(job.ID)
		jobs = append(jobs, *job)
		return nil
	})
	if err != nil {
		return jobs, skipped, fmt.Errorf("folder walk failed: %w", err)
	}

	return jobs, skipped, nil
}

// List returns job snapshots matching the filter.
func (s *Service) List(ctx context.Context, filter database.UploadJobFilter) ([]models.UploadJob, error) {
	return s.store.ListUploadJobs(ctx, filter)
}

// Stop parks a pending or running job as stopped. Finished jobs are left
// alone.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetUploadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.UploadStatusFinished {
		return fmt.Errorf("upload job %s already finished", id)
	}

	if s.pool.IsActive(id) {
		// The worker commits the stopped status between chunks.
		s.pool.StopJob(id)
		return nil
	}

	s.pool.StopJob(id)
	if job.Status == models.UploadStatusPending {
		return s.store.UpdateUploadJobFields(ctx, id, map[string]interface{}{
			"status": models.UploadStatusStopped,
		})
	}
	return nil
}

// Start re-queues a stopped or failed job. The stored session URL survives
// a stop, so the worker resumes from the provider's next expected offset.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetUploadJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.CanRestart() {
		return fmt.Errorf("upload job %s is %s, only stopped or failed jobs restart", id, job.Status)
	}

	err = s.store.UpdateUploadJobFields(ctx, id, map[string]interface{}{
		"status":        models.UploadStatusPending,
		"error_message": "",
	})
	if err != nil {
		return err
	}
	s.pool.Enqueue(id)
	return nil
}

// Delete removes a job in any state. A running worker aborts and cleans up
// itself; otherwise the row is dropped here and the session revoked best
// effort.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetUploadJob(ctx, id)
	if err != nil {
		return err
	}

	if s.pool.DeleteJob(id) {
		return nil
	}

	if job.SessionURL != "" && job.Status != models.UploadStatusFinished {
		revokeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.client.CancelSession(revokeCtx, job.SessionURL); err != nil {
			s.log.WithError(err).Warn("failed to revoke upload session for job %s", id)
		}
		cancel()
	}
	return s.store.DeleteUploadJob(ctx, id)
}

// DeleteDriveJobs removes every upload job of a drive. Part of sign-out.
func (s *Service) DeleteDriveJobs(ctx context.Context, driveID string) error {
	jobs, err := s.store.ListUploadJobs(ctx, database.UploadJobFilter{DriveID: driveID})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.Delete(ctx, job.ID); err != nil {
			s.log.WithError(err).Warn("failed to delete upload job %s during sign-out", job.ID)
		}
	}
	return nil
}

func normalizeRemotePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
