// Package models contains the database models for the one-app-api service:
// signed-in cloud drives, their catalog items, and upload jobs. The models
// provide helper methods so callers never manipulate raw status strings.
package models

// Common constants for model validation
const (
	// Status values for upload jobs
	UploadStatusPending  = "pending"
	UploadStatusRunning  = "running"
	UploadStatusStopped  = "stopped"
	UploadStatusFinished = "finished"
	UploadStatusError    = "error"

	// Item types
	ItemTypeFile   = "file"
	ItemTypeFolder = "folder"
)

// ValidUploadStatuses lists every status an upload job may hold.
var ValidUploadStatuses = []string{
	UploadStatusPending,
	UploadStatusRunning,
	UploadStatusStopped,
	UploadStatusFinished,
	UploadStatusError,
}

// IsValidUploadStatus reports whether s is a known upload job status.
func IsValidUploadStatus(s string) bool {
	for _, v := range ValidUploadStatuses {
		if v == s {
			return true
		}
	}
	return false
}
