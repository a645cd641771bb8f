package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/internal/server/response"
	"github.com/gene9831/one-app-api/internal/uploader"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// UploadController manages upload jobs.
type UploadController struct {
	uploads *uploader.Service
	log     *logger.Logger
}

// NewUploadController creates an upload controller.
func NewUploadController(uploads *uploader.Service, log *logger.Logger) *UploadController {
	return &UploadController{uploads: uploads, log: log}
}

// RegisterRoutes registers upload routes on the admin group.
func (uc *UploadController) RegisterRoutes(admin *gin.RouterGroup) {
	admin.POST("/uploads/file", uc.uploadFile)
	admin.POST("/uploads/folder", uc.uploadFolder)
	admin.GET("/uploads", uc.listUploads)
	admin.POST("/uploads/:id/stop", uc.stopUpload)
	admin.POST("/uploads/:id/start", uc.startUpload)
	admin.DELETE("/uploads/:id", uc.deleteUpload)
}

type uploadFileRequest struct {
	DriveID    string `json:"drive_id" binding:"required"`
	LocalPath  string `json:"local_path" binding:"required"`
	RemotePath string `json:"remote_path"`
}

func (uc *UploadController) uploadFile(c *gin.Context) {
	var req uploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "drive_id and local_path are required")
		return
	}

	job, err := uc.uploads.EnqueueFile(c.Request.Context(), req.DriveID, req.LocalPath, req.RemotePath)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "drive not found")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, job)
}

type uploadFolderRequest struct {
	DriveID    string `json:"drive_id" binding:"required"`
	LocalDir   string `json:"local_dir" binding:"required"`
	RemotePath string `json:"remote_path"`
}

func (uc *UploadController) uploadFolder(c *gin.Context) {
	var req uploadFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "drive_id and local_dir are required")
		return
	}

	jobs, skipped, err := uc.uploads.EnqueueFolder(c.Request.Context(), req.DriveID, req.LocalDir, req.RemotePath)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "drive not found")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, gin.H{
		"jobs":    jobs,
		"queued":  len(jobs),
		"skipped": skipped,
	})
}

func (uc *UploadController) listUploads(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.IsValidUploadStatus(status) {
		response.BadRequest(c, "unknown status "+status)
		return
	}

	jobs, err := uc.uploads.List(c.Request.Context(), database.UploadJobFilter{
		DriveID: c.Query("drive_id"),
		Status:  status,
	})
	if err != nil {
		response.InternalError(c, "failed to list upload jobs")
		return
	}
	response.Success(c, jobs, response.WithCount(len(jobs)))
}

func (uc *UploadController) stopUpload(c *gin.Context) {
	id, ok := uc.jobID(c)
	if !ok {
		return
	}
	if err := uc.uploads.Stop(c.Request.Context(), id); err != nil {
		uc.jobError(c, err)
		return
	}
	response.Success(c, gin.H{"stopping": true}, nil)
}

func (uc *UploadController) startUpload(c *gin.Context) {
	id, ok := uc.jobID(c)
	if !ok {
		return
	}
	if err := uc.uploads.Start(c.Request.Context(), id); err != nil {
		uc.jobError(c, err)
		return
	}
	response.Success(c, gin.H{"queued": true}, nil)
}

func (uc *UploadController) deleteUpload(c *gin.Context) {
	id, ok := uc.jobID(c)
	if !ok {
		return
	}
	if err := uc.uploads.Delete(c.Request.Context(), id); err != nil {
		uc.jobError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true}, nil)
}

func (uc *UploadController) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "malformed job id")
		return uuid.Nil, false
	}
	return id, true
}

func (uc *UploadController) jobError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "upload job not found")
		return
	}
	response.BadRequest(c, err.Error())
}
