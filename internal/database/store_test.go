package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gene9831/one-app-api/internal/database/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Drive{}, &models.Item{}, &models.UploadJob{}))
	return NewStore(db)
}

func seedDrive(t *testing.T, store *Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveDrive(context.Background(), &models.Drive{ID: id}))
}

func TestStore_DriveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetDrive(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	drive := &models.Drive{ID: "d1", OwnerName: "Owner", AccessToken: "tok"}
	require.NoError(t, store.SaveDrive(ctx, drive))

	got, err := store.GetDrive(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Owner", got.OwnerName)

	// Saving again with the same id replaces, not duplicates.
	drive.OwnerName = "Renamed"
	require.NoError(t, store.SaveDrive(ctx, drive))
	drives, err := store.ListDrives(ctx)
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Equal(t, "Renamed", drives[0].OwnerName)
}

func TestStore_UpdateDriveFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	err := store.UpdateDriveFields(ctx, "d1", map[string]interface{}{
		"delta_cursor": "cursor-1",
		"needs_reauth": true,
	})
	require.NoError(t, err)

	got, err := store.GetDrive(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", got.DeltaCursor)
	assert.True(t, got.NeedsReauth)

	assert.ErrorIs(t, store.UpdateDriveFields(ctx, "ghost", map[string]interface{}{
		"delta_cursor": "x",
	}), ErrNotFound)
}

func TestStore_DeleteDriveCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	_, err := store.UpsertItem(ctx, &models.Item{ID: "i1", DriveID: "d1", Name: "a", ItemType: models.ItemTypeFile})
	require.NoError(t, err)
	job := &models.UploadJob{DriveID: "d1", LocalPath: "/l", RemotePath: "/r", Filename: "f", Size: 1}
	require.NoError(t, store.CreateUploadJob(ctx, job))

	require.NoError(t, store.DeleteDrive(ctx, "d1"))

	_, err = store.GetItem(ctx, "i1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetUploadJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteDrive(ctx, "d1"), ErrNotFound)
}

func TestStore_UpsertItemOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	item := &models.Item{ID: "i1", DriveID: "d1", Name: "a.mp4", ParentPath: "/", ItemType: models.ItemTypeFile, CTag: "c1"}
	outcome, err := store.UpsertItem(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, ItemAdded, outcome)

	// Identical content is a no-op.
	same := *item
	outcome, err = store.UpsertItem(ctx, &same)
	require.NoError(t, err)
	assert.Equal(t, ItemUnchanged, outcome)

	changed := *item
	changed.CTag = "c2"
	changed.Size = 99
	outcome, err = store.UpsertItem(ctx, &changed)
	require.NoError(t, err)
	assert.Equal(t, ItemUpdated, outcome)

	got, err := store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Size)
}

func TestStore_UpsertItemPreservesShareToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	item := &models.Item{ID: "i1", DriveID: "d1", Name: "a.mp4", ParentPath: "/", ItemType: models.ItemTypeFile, CTag: "c1"}
	_, err := store.UpsertItem(ctx, item)
	require.NoError(t, err)
	require.NoError(t, store.UpdateItemFields(ctx, "i1", map[string]interface{}{"share_token": "s!token"}))

	// A reconciled update carries no share token; the stored one survives.
	changed := &models.Item{ID: "i1", DriveID: "d1", Name: "a.mp4", ParentPath: "/", ItemType: models.ItemTypeFile, CTag: "c2"}
	outcome, err := store.UpsertItem(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, ItemUpdated, outcome)

	got, err := store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "s!token", got.ShareToken)
}

func TestStore_DeleteItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	_, err := store.UpsertItem(ctx, &models.Item{ID: "i1", DriveID: "d1", Name: "a", ItemType: models.ItemTypeFile})
	require.NoError(t, err)

	existed, err := store.DeleteItem(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.DeleteItem(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_ListChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	rows := []models.Item{
		{ID: "f1", DriveID: "d1", Name: "Sub", ParentPath: "/Movies", ItemType: models.ItemTypeFolder},
		{ID: "i1", DriveID: "d1", Name: "a.mp4", ParentPath: "/Movies", ItemType: models.ItemTypeFile},
		{ID: "i2", DriveID: "d1", Name: "deep.mp4", ParentPath: "/Movies/Sub", ItemType: models.ItemTypeFile},
	}
	for i := range rows {
		_, err := store.UpsertItem(ctx, &rows[i])
		require.NoError(t, err)
	}

	children, err := store.ListChildren(ctx, "d1", "/Movies", 100, 0)
	require.NoError(t, err)
	require.Len(t, children, 2)
	// Folders sort before files.
	assert.Equal(t, "Sub", children[0].Name)
	assert.Equal(t, "a.mp4", children[1].Name)
}

func TestStore_ListVideos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	rows := []models.Item{
		{ID: "i1", DriveID: "d1", Name: "a.mp4", ParentPath: "/Movies", ItemType: models.ItemTypeFile, MimeType: "video/mp4"},
		{ID: "i2", DriveID: "d1", Name: "b.mkv", ParentPath: "/Movies/2023", ItemType: models.ItemTypeFile, MimeType: "video/x-matroska"},
		{ID: "i3", DriveID: "d1", Name: "cover.jpg", ParentPath: "/Movies", ItemType: models.ItemTypeFile, MimeType: "image/jpeg"},
		{ID: "i4", DriveID: "d1", Name: "other.mp4", ParentPath: "/Backups", ItemType: models.ItemTypeFile, MimeType: "video/mp4"},
	}
	for i := range rows {
		_, err := store.UpsertItem(ctx, &rows[i])
		require.NoError(t, err)
	}

	videos, err := store.ListVideos(ctx, "d1", "/Movies")
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "a.mp4", videos[0].Name)
	assert.Equal(t, "b.mkv", videos[1].Name)
}

func TestStore_UploadJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	job := &models.UploadJob{DriveID: "d1", LocalPath: "/l/a.bin", RemotePath: "/r", Filename: "a.bin", Size: 10}
	require.NoError(t, store.CreateUploadJob(ctx, job))
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.UploadStatusPending, job.Status)

	require.NoError(t, store.UpdateUploadJobFields(ctx, job.ID, map[string]interface{}{
		"status":         models.UploadStatusRunning,
		"finished_bytes": int64(5),
	}))

	got, err := store.GetUploadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusRunning, got.Status)
	assert.Equal(t, int64(5), got.FinishedBytes)

	listed, err := store.ListUploadJobs(ctx, UploadJobFilter{DriveID: "d1", Status: models.UploadStatusRunning})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, store.DeleteUploadJob(ctx, job.ID))
	_, err = store.GetUploadJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ResetOrphanedUploadJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDrive(t, store, "d1")

	mk := func(status string) {
		require.NoError(t, store.CreateUploadJob(ctx, &models.UploadJob{
			DriveID: "d1", LocalPath: "/l", RemotePath: "/r", Filename: "f", Size: 1, Status: status,
		}))
	}
	mk(models.UploadStatusRunning)
	mk(models.UploadStatusPending)
	mk(models.UploadStatusFinished)

	n, err := store.ResetOrphanedUploadJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stopped, err := store.ListUploadJobs(ctx, UploadJobFilter{Status: models.UploadStatusStopped})
	require.NoError(t, err)
	assert.Len(t, stopped, 2)

	finished, err := store.ListUploadJobs(ctx, UploadJobFilter{Status: models.UploadStatusFinished})
	require.NoError(t, err)
	assert.Len(t, finished, 1)
}
