package models

import (
	"strings"
	"time"
)

// Item is one catalog row mirroring a provider drive item. The primary key
// is the provider's item identifier, which is stable across renames and
// moves, so delta reconciliation is a plain upsert.
type Item struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	DriveID   string    `gorm:"size:128;not null;index" json:"drive_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Name string `gorm:"size:1024;not null" json:"name"`
	// ParentPath is the provider path of the containing folder, relative to
	// the drive root ("/Movies/2023"). Root items have "/".
	ParentPath string `gorm:"size:2048;index" json:"parent_path"`
	ItemType   string `gorm:"size:16;not null" json:"item_type"`
	Size       int64  `gorm:"default:0" json:"size"`
	MimeType   string `gorm:"size:255" json:"mime_type,omitempty"`

	// Provider change tags, used to detect updated-vs-unchanged on upsert
	CTag string `gorm:"size:255" json:"-"`
	ETag string `gorm:"size:255" json:"-"`

	ModifiedAt *time.Time `json:"modified_at,omitempty"`

	// Cached anonymous share token, empty until a link is created
	ShareToken string `gorm:"size:512" json:"-"`
}

// TableName returns the table name for the Item model
func (Item) TableName() string {
	return "items"
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.ItemType == ItemTypeFolder
}

// IsVideo reports whether the item is a video file.
func (i *Item) IsVideo() bool {
	return i.ItemType == ItemTypeFile && strings.HasPrefix(i.MimeType, "video/")
}

// Path returns the full remote path of the item.
func (i *Item) Path() string {
	if i.ParentPath == "/" || i.ParentPath == "" {
		return "/" + i.Name
	}
	return i.ParentPath + "/" + i.Name
}

// ContentChanged reports whether other carries different content or
// metadata than the stored row. Share tokens and timestamps managed by
// this service are excluded from the comparison.
func (i *Item) ContentChanged(other *Item) bool {
	return i.Name != other.Name ||
		i.ParentPath != other.ParentPath ||
		i.ItemType != other.ItemType ||
		i.Size != other.Size ||
		i.MimeType != other.MimeType ||
		i.CTag != other.CTag ||
		i.ETag != other.ETag
}
