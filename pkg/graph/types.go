package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// driveItemType is the OData type tag of drive item records in the delta
// feed. Records carrying any other tag are not part of the catalog.
const driveItemType = "#microsoft.graph.driveItem"

// DriveInfo describes a drive account as returned by GET /me/drive.
type DriveInfo struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
	Owner     struct {
		User struct {
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
		} `json:"user"`
	} `json:"owner"`
	Quota struct {
		Total     int64 `json:"total"`
		Used      int64 `json:"used"`
		Remaining int64 `json:"remaining"`
	} `json:"quota"`
}

// DriveItem represents a file or folder record from the provider.
type DriveItem struct {
	ODataType string `json:"@odata.type,omitempty"`

	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Size                 int64          `json:"size"`
	CTag                 string         `json:"cTag,omitempty"`
	ETag                 string         `json:"eTag,omitempty"`
	CreatedDateTime      time.Time      `json:"createdDateTime,omitempty"`
	LastModifiedDateTime time.Time      `json:"lastModifiedDateTime,omitempty"`
	File                 *FileFacet     `json:"file,omitempty"`
	Folder               *FolderFacet   `json:"folder,omitempty"`
	Deleted              *DeletedFacet  `json:"deleted,omitempty"`
	ParentReference      *ItemReference `json:"parentReference,omitempty"`
	DownloadURL          string         `json:"@microsoft.graph.downloadUrl,omitempty"`
}

// FileFacet is present on file items.
type FileFacet struct {
	MimeType string `json:"mimeType"`
}

// FolderFacet is present on folder items.
type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

// DeletedFacet marks a tombstone record in the delta feed.
type DeletedFacet struct {
	State string `json:"state,omitempty"`
}

// ItemReference locates the parent of an item.
type ItemReference struct {
	DriveID string `json:"driveId,omitempty"`
	ID      string `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
}

// IsDriveItem reports whether the record belongs in the catalog. Records
// with an absent type tag are drive items; the tag only appears on
// heterogeneous feeds.
func (i *DriveItem) IsDriveItem() bool {
	return i.ODataType == "" || i.ODataType == driveItemType
}

// IsDeleted reports whether the record is a tombstone.
func (i *DriveItem) IsDeleted() bool {
	return i.Deleted != nil
}

// ParentPath returns the item's containing folder path relative to the
// drive root, "/" for root children. The provider prefixes paths with
// "/drive/root:".
func (i *DriveItem) ParentPath() string {
	if i.ParentReference == nil || i.ParentReference.Path == "" {
		return "/"
	}
	path := i.ParentReference.Path
	if idx := strings.Index(path, "root:"); idx >= 0 {
		path = path[idx+len("root:"):]
	}
	if path == "" {
		return "/"
	}
	return path
}

// DeltaPage is one page of the delta feed.
type DeltaPage struct {
	ODataContext   string      `json:"@odata.context,omitempty"`
	ODataNextLink  string      `json:"@odata.nextLink,omitempty"`
	ODataDeltaLink string      `json:"@odata.deltaLink,omitempty"`
	Value          []DriveItem `json:"value"`
}

// UploadSession is a resumable upload session as returned by
// createUploadSession and by probing the session URL.
type UploadSession struct {
	UploadURL          string   `json:"uploadUrl,omitempty"`
	ExpirationDateTime string   `json:"expirationDateTime,omitempty"`
	NextExpectedRanges []string `json:"nextExpectedRanges,omitempty"`
}

// NextExpectedOffset parses the first expected range into a byte offset.
// The provider's answer is authoritative over any locally tracked counter.
func (s *UploadSession) NextExpectedOffset() (int64, error) {
	if len(s.NextExpectedRanges) == 0 {
		return 0, fmt.Errorf("upload session reports no expected ranges")
	}
	r := s.NextExpectedRanges[0]
	if idx := strings.Index(r, "-"); idx >= 0 {
		r = r[:idx]
	}
	offset, err := strconv.ParseInt(r, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed expected range %q: %w", s.NextExpectedRanges[0], err)
	}
	return offset, nil
}

// ChunkResult describes the provider's answer to one chunk PUT.
type ChunkResult struct {
	// Completed is true once the provider returned the finished item.
	Completed bool
	// ItemID is the created item's id when Completed.
	ItemID string
	// NextOffset is the next expected byte when not Completed.
	NextOffset int64
}

// Permission is one sharing permission on an item.
type Permission struct {
	ID   string `json:"id"`
	Link *struct {
		WebURL string `json:"webUrl"`
		Type   string `json:"type"`
		Scope  string `json:"scope"`
	} `json:"link,omitempty"`
}

// APIError is a non-2xx answer from the provider. The status code carries
// the transient-vs-fatal split callers branch on.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsClientError reports a 4xx answer, fatal for the operation.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports a 5xx answer, worth retrying.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// RetryPolicy controls the metadata-call retry loop.
type RetryPolicy struct {
	MaxRetries         int
	InitialDelay       time.Duration
	ExponentialBackoff bool
}

// DefaultRetryPolicy matches the provider's throttling guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		InitialDelay:       time.Second,
		ExponentialBackoff: true,
	}
}

// RateLimiter is a token bucket limiting outbound provider calls.
type RateLimiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()

	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate).Seconds()

	// Add tokens based on elapsed time
	rl.tokens = minFloat(float64(rl.burst), rl.tokens+elapsed*rl.rate)
	rl.lastUpdate = now

	if rl.tokens >= 1.0 {
		rl.tokens--
		rl.mu.Unlock()
		return nil
	}

	waitTime := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
	rl.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(waitTime):
	}

	rl.mu.Lock()
	rl.tokens = 0
	rl.lastUpdate = time.Now()
	rl.mu.Unlock()
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
