package models

import (
	"time"
)

// Drive represents a signed-in cloud drive account. The primary key is the
// provider's drive identifier, so signing in again with the same account
// replaces tokens instead of creating a duplicate row.
type Drive struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Account information from the provider
	DriveType  string `gorm:"size:32" json:"drive_type"`
	OwnerName  string `gorm:"size:255" json:"owner_name"`
	OwnerEmail string `gorm:"size:255" json:"owner_email"`

	// Quota snapshot, refreshed on every delta sync
	QuotaTotal     int64 `gorm:"default:0" json:"quota_total"`
	QuotaUsed      int64 `gorm:"default:0" json:"quota_used"`
	QuotaRemaining int64 `gorm:"default:0" json:"quota_remaining"`

	// OAuth credentials
	AccessToken    string    `gorm:"type:text" json:"-"`
	RefreshToken   string    `gorm:"type:text" json:"-"`
	TokenExpiresAt time.Time `json:"-"`
	NeedsReauth    bool      `gorm:"default:false" json:"needs_reauth"`

	// Delta feed cursor. Empty means the next sync walks from the root.
	DeltaCursor string     `gorm:"type:text" json:"-"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`

	// Media catalog roots, remote paths relative to the drive root
	MoviesPath   string `gorm:"size:1024" json:"movies_path"`
	TVSeriesPath string `gorm:"size:1024" json:"tv_series_path"`

	// Cached prefix of provider download URLs. Lets the content endpoint
	// build redirect targets from a shared-link token without a provider
	// round trip.
	BaseDownloadURL string `gorm:"type:text" json:"-"`
}

// TableName returns the table name for the Drive model
func (Drive) TableName() string {
	return "drives"
}

// TokenExpired reports whether the access token is expired or expires
// within skew.
func (d *Drive) TokenExpired(skew time.Duration) bool {
	return time.Now().Add(skew).After(d.TokenExpiresAt)
}

// DrivePublic is the projection of a drive exposed on unauthenticated
// routes. Tokens and cursors never leave the process.
type DrivePublic struct {
	ID             string     `json:"id"`
	DriveType      string     `json:"drive_type"`
	OwnerName      string     `json:"owner_name"`
	QuotaTotal     int64      `json:"quota_total"`
	QuotaUsed      int64      `json:"quota_used"`
	QuotaRemaining int64      `json:"quota_remaining"`
	NeedsReauth    bool       `json:"needs_reauth"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// Public returns the unauthenticated projection of the drive.
func (d *Drive) Public() DrivePublic {
	return DrivePublic{
		ID:             d.ID,
		DriveType:      d.DriveType,
		OwnerName:      d.OwnerName,
		QuotaTotal:     d.QuotaTotal,
		QuotaUsed:      d.QuotaUsed,
		QuotaRemaining: d.QuotaRemaining,
		NeedsReauth:    d.NeedsReauth,
		LastSyncAt:     d.LastSyncAt,
	}
}
