package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadJob is the persistent record of one chunked upload. Workers never
// write the row directly; all mutation flows through the uploader's
// dirty-field tracker so a crash loses at most one chunk of progress
// accounting.
type UploadJob struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DriveID   string    `gorm:"size:128;not null;index" json:"drive_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Source and destination
	LocalPath  string `gorm:"size:2048;not null" json:"local_path"`
	RemotePath string `gorm:"size:2048;not null" json:"remote_path"`
	Filename   string `gorm:"size:1024;not null" json:"filename"`
	Size       int64  `gorm:"not null" json:"size"`

	Status string `gorm:"size:16;not null;default:'pending';index" json:"status"`

	// Resumable session state
	SessionURL    string `gorm:"type:text" json:"-"`
	FinishedBytes int64  `gorm:"default:0" json:"finished_bytes"`

	// Progress accounting
	Speed        int64   `gorm:"default:0" json:"speed"`
	SpendSeconds float64 `gorm:"default:0" json:"spend_seconds"`

	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the table name for the UploadJob model
func (UploadJob) TableName() string {
	return "upload_jobs"
}

// IsTerminal reports whether no worker will ever pick the job up again
// without an explicit restart.
func (j *UploadJob) IsTerminal() bool {
	return j.Status == UploadStatusFinished ||
		j.Status == UploadStatusStopped ||
		j.Status == UploadStatusError
}

// CanRestart reports whether the job may be moved back to pending.
func (j *UploadJob) CanRestart() bool {
	return j.Status == UploadStatusStopped || j.Status == UploadStatusError
}

// Progress returns the fraction of bytes confirmed by the provider,
// in [0, 1].
func (j *UploadJob) Progress() float64 {
	if j.Size == 0 {
		return 0
	}
	return float64(j.FinishedBytes) / float64(j.Size)
}
