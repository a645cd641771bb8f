package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/internal/drives"
	"github.com/gene9831/one-app-api/internal/server/response"
	"github.com/gene9831/one-app-api/internal/syncer"
	"github.com/gene9831/one-app-api/internal/uploader"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// DriveController manages drive accounts: sign-in, sync, media paths,
// sign-out.
type DriveController struct {
	store   *database.Store
	drives  *drives.Manager
	watcher *drives.Refresher
	syncer  *syncer.Syncer
	uploads *uploader.Service
	log     *logger.Logger
	tracer  trace.Tracer
}

// NewDriveController creates a drive controller.
func NewDriveController(store *database.Store, manager *drives.Manager, watcher *drives.Refresher, s *syncer.Syncer, uploads *uploader.Service, log *logger.Logger) *DriveController {
	return &DriveController{
		store:   store,
		drives:  manager,
		watcher: watcher,
		syncer:  s,
		uploads: uploads,
		log:     log,
		tracer:  otel.Tracer("drive-controller"),
	}
}

// RegisterRoutes registers drive routes on the public and admin groups.
func (dc *DriveController) RegisterRoutes(api, admin *gin.RouterGroup) {
	api.GET("/drives", dc.listDrives)
	// The provider redirects the signing-in browser here; it cannot carry
	// a bearer token. The one-time state from BeginSignIn gates it.
	api.GET("/drives/callback", dc.signInCallback)

	admin.POST("/drives/signin", dc.beginSignIn)
	admin.POST("/drives/:id/sync", dc.syncDrive)
	admin.PUT("/drives/:id/media-paths", dc.setMediaPaths)
	admin.DELETE("/drives/:id", dc.signOut)
}

func (dc *DriveController) listDrives(c *gin.Context) {
	all, err := dc.store.ListDrives(c.Request.Context())
	if err != nil {
		response.InternalError(c, "failed to list drives")
		return
	}

	publics := make([]models.DrivePublic, 0, len(all))
	for _, drive := range all {
		publics = append(publics, drive.Public())
	}
	response.Success(c, publics, response.WithCount(len(publics)))
}

func (dc *DriveController) beginSignIn(c *gin.Context) {
	url, err := dc.drives.BeginSignIn()
	if err != nil {
		response.InternalError(c, "failed to build sign-in url")
		return
	}
	response.Success(c, gin.H{"auth_url": url}, nil)
}

func (dc *DriveController) signInCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		response.BadRequest(c, "code and state are required")
		return
	}

	drive, err := dc.drives.CompleteSignIn(c.Request.Context(), code, state)
	if err != nil {
		dc.log.WithError(err).Error("drive sign-in failed")
		response.BadRequest(c, "sign-in failed")
		return
	}

	dc.watcher.Watch(drive.ID)

	// First walk of a fresh drive can be large; run it in the background.
	go func(driveID string) {
		if _, err := dc.syncer.Sync(context.Background(), driveID, false); err != nil &&
			!errors.Is(err, syncer.ErrSyncInProgress) {
			dc.log.WithError(err).Error("initial sync failed for drive %s", driveID)
		}
	}(drive.ID)

	response.Success(c, drive.Public(), nil)
}

func (dc *DriveController) syncDrive(c *gin.Context) {
	driveID := c.Param("id")
	full := c.Query("full") == "true"

	counter, err := dc.syncer.Sync(c.Request.Context(), driveID, full)
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			response.Conflict(c, "sync already in progress")
		case errors.Is(err, database.ErrNotFound):
			response.NotFound(c, "drive not found")
		default:
			dc.log.WithError(err).Error("sync failed for drive %s", driveID)
			response.InternalError(c, "sync failed")
		}
		return
	}

	response.Success(c, gin.H{
		"counter": counter,
		"detail":  counter.Detail(),
	}, nil)
}

type mediaPathsRequest struct {
	MoviesPath   string `json:"movies_path"`
	TVSeriesPath string `json:"tv_series_path"`
}

func (dc *DriveController) setMediaPaths(c *gin.Context) {
	var req mediaPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "malformed body")
		return
	}

	err := dc.drives.SetMediaPaths(c.Request.Context(), c.Param("id"), req.MoviesPath, req.TVSeriesPath)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "drive not found")
			return
		}
		response.InternalError(c, "failed to update media paths")
		return
	}
	response.Success(c, gin.H{"updated": true}, nil)
}

func (dc *DriveController) signOut(c *gin.Context) {
	driveID := c.Param("id")
	ctx := c.Request.Context()

	dc.watcher.Stop(driveID)
	if err := dc.uploads.DeleteDriveJobs(ctx, driveID); err != nil {
		dc.log.WithError(err).Warn("failed to clear upload jobs for drive %s", driveID)
	}

	if err := dc.drives.SignOut(ctx, driveID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "drive not found")
			return
		}
		dc.log.WithError(err).Error("sign-out failed for drive %s", driveID)
		response.InternalError(c, "sign-out failed")
		return
	}
	response.Success(c, gin.H{"deleted": true}, nil)
}
