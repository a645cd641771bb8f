package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/internal/drives"
	"github.com/gene9831/one-app-api/internal/server/response"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// downloadMarker splits a provider download URL into the reusable prefix
// and the per-file share query.
const downloadMarker = "download.aspx?"

const defaultPageSize = 100

// ItemController serves the catalog: listings, media views, content
// redirects, and shared links.
type ItemController struct {
	store  *database.Store
	drives *drives.Manager
	graph  *graph.Client
	log    *logger.Logger
	tracer trace.Tracer
}

// NewItemController creates an item controller.
func NewItemController(store *database.Store, manager *drives.Manager, client *graph.Client, log *logger.Logger) *ItemController {
	return &ItemController{
		store:  store,
		drives: manager,
		graph:  client,
		log:    log,
		tracer: otel.Tracer("item-controller"),
	}
}

// RegisterRoutes registers item routes on the public and admin groups.
func (ic *ItemController) RegisterRoutes(api, admin *gin.RouterGroup) {
	api.GET("/items", ic.listItems)
	api.GET("/items/:id", ic.getItem)
	api.GET("/items/:id/content", ic.itemContent)
	api.GET("/movies", ic.listMovies)
	api.GET("/tv-series", ic.listTVSeries)

	admin.POST("/items/:id/link", ic.createLink)
	admin.DELETE("/items/:id/link", ic.deleteLink)
}

func (ic *ItemController) listItems(c *gin.Context) {
	parentPath := c.DefaultQuery("path", "/")
	driveID := c.Query("drive_id")
	limit, offset := pageParams(c)

	items, err := ic.store.ListChildren(c.Request.Context(), driveID, parentPath, limit, offset)
	if err != nil {
		response.InternalError(c, "failed to list items")
		return
	}
	response.Success(c, items, response.WithCount(len(items)))
}

func (ic *ItemController) getItem(c *gin.Context) {
	item, err := ic.store.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "item not found")
			return
		}
		response.InternalError(c, "failed to get item")
		return
	}
	response.Success(c, item, nil)
}

// itemContent answers with a redirect to the provider's pre-authenticated
// download URL. When the drive's download prefix and the item's share
// token are both cached, the target is computed locally; otherwise one
// provider round trip resolves it and primes the cache.
func (ic *ItemController) itemContent(c *gin.Context) {
	ctx := c.Request.Context()

	item, err := ic.store.GetItem(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "item not found")
			return
		}
		response.InternalError(c, "failed to get item")
		return
	}
	if item.IsFolder() {
		response.BadRequest(c, "folders have no content")
		return
	}

	drive, err := ic.store.GetDrive(ctx, item.DriveID)
	if err != nil {
		response.InternalError(c, "failed to get drive")
		return
	}

	if drive.BaseDownloadURL != "" && item.ShareToken != "" {
		c.Redirect(http.StatusFound, drive.BaseDownloadURL+"share="+item.ShareToken)
		return
	}

	token, err := ic.drives.Token(ctx, item.DriveID)
	if err != nil {
		ic.log.WithError(err).Error("token lookup failed for drive %s", item.DriveID)
		response.InternalError(c, "drive unavailable")
		return
	}

	location, err := ic.graph.ContentURL(ctx, token, item.ID)
	if err != nil {
		ic.log.WithError(err).Error("content url lookup failed for item %s", item.ID)
		response.InternalError(c, "failed to resolve content url")
		return
	}

	if idx := strings.Index(location, downloadMarker); idx >= 0 && drive.BaseDownloadURL == "" {
		prefix := location[:idx+len(downloadMarker)]
		if err := ic.store.UpdateDriveFields(ctx, drive.ID, map[string]interface{}{
			"base_download_url": prefix,
		}); err != nil {
			ic.log.WithError(err).Warn("failed to cache download prefix for drive %s", drive.ID)
		}
	}

	c.Redirect(http.StatusFound, location)
}

func (ic *ItemController) createLink(c *gin.Context) {
	ctx := c.Request.Context()
	itemID := c.Param("id")

	item, err := ic.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "item not found")
			return
		}
		response.InternalError(c, "failed to get item")
		return
	}

	token, err := ic.drives.Token(ctx, item.DriveID)
	if err != nil {
		response.InternalError(c, "drive unavailable")
		return
	}

	webURL, err := ic.graph.CreateLink(ctx, token, itemID)
	if err != nil {
		ic.log.WithError(err).Error("create link failed for item %s", itemID)
		response.InternalError(c, "failed to create link")
		return
	}

	shareToken := webURL
	if idx := strings.LastIndex(webURL, "/"); idx >= 0 {
		shareToken = webURL[idx+1:]
	}
	if err := ic.store.UpdateItemFields(ctx, itemID, map[string]interface{}{
		"share_token": shareToken,
	}); err != nil {
		response.InternalError(c, "failed to store share token")
		return
	}

	response.Created(c, gin.H{"web_url": webURL, "share_token": shareToken})
}

func (ic *ItemController) deleteLink(c *gin.Context) {
	ctx := c.Request.Context()
	itemID := c.Param("id")

	item, err := ic.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			response.NotFound(c, "item not found")
			return
		}
		response.InternalError(c, "failed to get item")
		return
	}

	token, err := ic.drives.Token(ctx, item.DriveID)
	if err != nil {
		response.InternalError(c, "drive unavailable")
		return
	}

	if err := ic.graph.DeletePermissions(ctx, token, itemID); err != nil {
		ic.log.WithError(err).Error("permission revocation failed for item %s", itemID)
		response.InternalError(c, "failed to revoke link")
		return
	}

	if err := ic.store.UpdateItemFields(ctx, itemID, map[string]interface{}{
		"share_token": "",
	}); err != nil {
		response.InternalError(c, "failed to clear share token")
		return
	}
	response.Success(c, gin.H{"revoked": true}, nil)
}

func (ic *ItemController) listMovies(c *gin.Context) {
	ic.listMedia(c, func(drive *models.Drive) string { return drive.MoviesPath })
}

func (ic *ItemController) listTVSeries(c *gin.Context) {
	ic.listMedia(c, func(drive *models.Drive) string { return drive.TVSeriesPath })
}

// listMedia lists video files under the per-drive media root selected by
// rootOf. Drives without that root configured contribute nothing.
func (ic *ItemController) listMedia(c *gin.Context, rootOf func(*models.Drive) string) {
	ctx := c.Request.Context()

	var candidates []models.Drive
	if driveID := c.Query("drive_id"); driveID != "" {
		drive, err := ic.store.GetDrive(ctx, driveID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				response.NotFound(c, "drive not found")
				return
			}
			response.InternalError(c, "failed to get drive")
			return
		}
		candidates = []models.Drive{*drive}
	} else {
		all, err := ic.store.ListDrives(ctx)
		if err != nil {
			response.InternalError(c, "failed to list drives")
			return
		}
		candidates = all
	}

	videos := make([]models.Item, 0)
	for _, drive := range candidates {
		root := rootOf(&drive)
		if root == "" {
			continue
		}
		items, err := ic.store.ListVideos(ctx, drive.ID, root)
		if err != nil {
			response.InternalError(c, "failed to list videos")
			return
		}
		videos = append(videos, items...)
	}
	response.Success(c, videos, response.WithCount(len(videos)))
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
