package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gene9831/one-app-api/internal/database/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// UpsertOutcome describes what an item upsert did to the catalog.
type UpsertOutcome int

const (
	ItemAdded UpsertOutcome = iota
	ItemUpdated
	ItemUnchanged
)

// Store is the data access layer over the GORM connection. All methods are
// safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Drives ---

// GetDrive retrieves a drive by its provider identifier.
func (s *Store) GetDrive(ctx context.Context, id string) (*models.Drive, error) {
	var drive models.Drive
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&drive).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("drive %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drive: %w", err)
	}
	return &drive, nil
}

// ListDrives returns all signed-in drives ordered by creation time.
func (s *Store) ListDrives(ctx context.Context) ([]models.Drive, error) {
	var drives []models.Drive
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&drives).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list drives: %w", err)
	}
	return drives, nil
}

// SaveDrive inserts or replaces a drive row. The primary key is the
// provider drive id, so re-signing in updates the existing row.
func (s *Store) SaveDrive(ctx context.Context, drive *models.Drive) error {
	if err := s.db.WithContext(ctx).Save(drive).Error; err != nil {
		return fmt.Errorf("failed to save drive: %w", err)
	}
	return nil
}

// UpdateDriveFields updates the named columns of a drive.
func (s *Store) UpdateDriveFields(ctx context.Context, id string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Drive{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update drive: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("drive %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDrive removes a drive along with its catalog items and upload jobs.
func (s *Store) DeleteDrive(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("drive_id = ?", id).Delete(&models.Item{}).Error; err != nil {
			return fmt.Errorf("failed to delete drive items: %w", err)
		}
		if err := tx.Where("drive_id = ?", id).Delete(&models.UploadJob{}).Error; err != nil {
			return fmt.Errorf("failed to delete drive upload jobs: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&models.Drive{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete drive: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("drive %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// --- Items ---

// GetItem retrieves a catalog item by its provider identifier.
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// UpsertItem writes one reconciled item and reports whether the catalog row
// was added, updated, or already identical. The share token survives content
// updates; it is only cleared by an explicit link revocation.
func (s *Store) UpsertItem(ctx context.Context, item *models.Item) (UpsertOutcome, error) {
	outcome := ItemUnchanged
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Item
		err := tx.Where("id = ?", item.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("failed to create item: %w", err)
			}
			outcome = ItemAdded
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read item: %w", err)
		}

		if !existing.ContentChanged(item) {
			outcome = ItemUnchanged
			return nil
		}

		item.ShareToken = existing.ShareToken
		item.CreatedAt = existing.CreatedAt
		if err := tx.Save(item).Error; err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		outcome = ItemUpdated
		return nil
	})
	return outcome, err
}

// DeleteItem removes a catalog item, reporting whether a row existed.
func (s *Store) DeleteItem(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Item{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete item: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteDriveItems purges every catalog row of a drive. Used by full resync.
func (s *Store) DeleteDriveItems(ctx context.Context, driveID string) error {
	if err := s.db.WithContext(ctx).Where("drive_id = ?", driveID).Delete(&models.Item{}).Error; err != nil {
		return fmt.Errorf("failed to purge drive items: %w", err)
	}
	return nil
}

// ListChildren returns the items whose parent path matches parentPath.
func (s *Store) ListChildren(ctx context.Context, driveID, parentPath string, limit, offset int) ([]models.Item, error) {
	var items []models.Item
	query := s.db.WithContext(ctx).Where("parent_path = ?", parentPath)
	if driveID != "" {
		query = query.Where("drive_id = ?", driveID)
	}
	err := query.Order("item_type DESC").Order("name ASC").
		Limit(limit).Offset(offset).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return items, nil
}

// ListVideos returns the video files of a drive under pathPrefix.
func (s *Store) ListVideos(ctx context.Context, driveID, pathPrefix string) ([]models.Item, error) {
	var items []models.Item
	query := s.db.WithContext(ctx).
		Where("drive_id = ?", driveID).
		Where("item_type = ?", models.ItemTypeFile).
		Where("mime_type LIKE ?", "video/%")
	if pathPrefix != "" && pathPrefix != "/" {
		query = query.Where("parent_path = ? OR parent_path LIKE ?", pathPrefix, pathPrefix+"/%")
	}
	err := query.Order("parent_path ASC").Order("name ASC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return items, nil
}

// UpdateItemFields updates the named columns of an item.
func (s *Store) UpdateItemFields(ctx context.Context, id string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Upload jobs ---

// CreateUploadJob inserts a new upload job row.
func (s *Store) CreateUploadJob(ctx context.Context, job *models.UploadJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.UploadStatusPending
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create upload job: %w", err)
	}
	return nil
}

// GetUploadJob retrieves an upload job by id.
func (s *Store) GetUploadJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	var job models.UploadJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("upload job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload job: %w", err)
	}
	return &job, nil
}

// UpdateUploadJobFields updates the named columns of an upload job. The
// uploader's tracker is the only caller; it passes exactly the dirty set.
func (s *Store) UpdateUploadJobFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.UploadJob{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update upload job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("upload job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUploadJob removes an upload job row.
func (s *Store) DeleteUploadJob(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UploadJob{}).Error; err != nil {
		return fmt.Errorf("failed to delete upload job: %w", err)
	}
	return nil
}

// UploadJobFilter narrows ListUploadJobs. Zero values match everything.
type UploadJobFilter struct {
	DriveID string
	Status  string
}

// ListUploadJobs returns upload jobs matching the filter, oldest first.
func (s *Store) ListUploadJobs(ctx context.Context, filter UploadJobFilter) ([]models.UploadJob, error) {
	var jobs []models.UploadJob
	query := s.db.WithContext(ctx)
	if filter.DriveID != "" {
		query = query.Where("drive_id = ?", filter.DriveID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	err := query.Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list upload jobs: %w", err)
	}
	return jobs, nil
}

// ResetOrphanedUploadJobs flips jobs left running or pending by a previous
// process into stopped and returns how many rows changed. Runs before the
// worker pool accepts work.
func (s *Store) ResetOrphanedUploadJobs(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.UploadJob{}).
		Where("status IN ?", []string{models.UploadStatusRunning, models.UploadStatusPending}).
		Update("status", models.UploadStatusStopped)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset orphaned upload jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
