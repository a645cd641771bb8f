package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

type fakeStore struct {
	mu     sync.Mutex
	drives map[string]*models.Drive
	items  map[string]*models.Item

	driveUpdates []map[string]interface{}
	purged       []string
	upsertErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drives: make(map[string]*models.Drive),
		items:  make(map[string]*models.Item),
	}
}

func (f *fakeStore) GetDrive(ctx context.Context, id string) (*models.Drive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drive, ok := f.drives[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *drive
	return &copied, nil
}

func (f *fakeStore) ListDrives(ctx context.Context) ([]models.Drive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Drive
	for _, d := range f.drives {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeStore) UpdateDriveFields(ctx context.Context, id string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driveUpdates = append(f.driveUpdates, fields)
	if cursor, ok := fields["delta_cursor"].(string); ok {
		f.drives[id].DeltaCursor = cursor
	}
	return nil
}

func (f *fakeStore) UpsertItem(ctx context.Context, item *models.Item) (database.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return database.ItemUnchanged, f.upsertErr
	}
	existing, ok := f.items[item.ID]
	if !ok {
		f.items[item.ID] = item
		return database.ItemAdded, nil
	}
	if existing.CTag == item.CTag && existing.ETag == item.ETag {
		return database.ItemUnchanged, nil
	}
	f.items[item.ID] = item
	return database.ItemUpdated, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[id]
	delete(f.items, id)
	return ok, nil
}

func (f *fakeStore) DeleteDriveItems(ctx context.Context, driveID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, driveID)
	f.items = make(map[string]*models.Item)
	return nil
}

type fakeClient struct {
	mu    sync.Mutex
	pages map[string]*graph.DeltaPage
	errs  map[string]error
	calls []string
	info  *graph.DriveInfo

	// block, when set, is closed by the test to release DeltaPage.
	block chan struct{}
}

func (f *fakeClient) RootDeltaURL() string {
	return "https://provider.test/root/delta"
}

func (f *fakeClient) DeltaPage(ctx context.Context, token, pageURL string) (*graph.DeltaPage, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return nil, err
	}
	page, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("unexpected page url %s", pageURL)
	}
	return page, nil
}

func (f *fakeClient) Drive(ctx context.Context, token string) (*graph.DriveInfo, error) {
	if f.info == nil {
		return nil, errors.New("no drive info")
	}
	return f.info, nil
}

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context, driveID string) (string, error) {
	return "token", nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: logger.JSONFormat,
		Output: io.Discard,
	})
}

func folderRecord(id, name, parent string) graph.DriveItem {
	return graph.DriveItem{
		ID:              id,
		Name:            name,
		Folder:          &graph.FolderFacet{},
		ParentReference: &graph.ItemReference{Path: parent},
	}
}

func fileRecord(id, name, parent, ctag string) graph.DriveItem {
	return graph.DriveItem{
		ID:                   id,
		Name:                 name,
		Size:                 42,
		CTag:                 ctag,
		File:                 &graph.FileFacet{MimeType: "video/mp4"},
		ParentReference:      &graph.ItemReference{Path: parent},
		LastModifiedDateTime: time.Now(),
	}
}

func TestSync_InitialWalk(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataNextLink: "https://provider.test/page2",
				Value: []graph.DriveItem{
					// The root itself shows up in the feed and must be skipped.
					{ID: "root", Name: "root", Folder: &graph.FolderFacet{}},
					folderRecord("f1", "Movies", "/drive/root:"),
					fileRecord("i1", "a.mp4", "/drive/root:/Movies", "c1"),
				},
			},
			"https://provider.test/page2": {
				ODataDeltaLink: "https://provider.test/delta?token=abc",
				Value: []graph.DriveItem{
					fileRecord("i2", "b.mp4", "/drive/root:/Movies", "c2"),
				},
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)

	assert.Equal(t, 3, counter.Added)
	assert.Equal(t, 0, counter.Updated)
	assert.Equal(t, 0, counter.Deleted)
	assert.Equal(t, "https://provider.test/delta?token=abc", store.drives["d1"].DeltaCursor)
	assert.NotContains(t, store.items, "root")
	assert.Equal(t, "/Movies", store.items["i1"].ParentPath)
}

func TestSync_ReappliedPageYieldsZeroes(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}

	records := []graph.DriveItem{
		folderRecord("f1", "Movies", "/drive/root:"),
		fileRecord("i1", "a.mp4", "/drive/root:/Movies", "c1"),
		fileRecord("i2", "b.mp4", "/drive/root:/Movies", "c2"),
	}
	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=abc",
				Value:          records,
			},
			// The provider may re-emit records it already delivered; the
			// second walk sees the exact same page.
			"https://provider.test/delta?token=abc": {
				ODataDeltaLink: "https://provider.test/delta?token=def",
				Value:          records,
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())

	first, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Added)

	second, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)
	assert.True(t, second.Empty(), "re-applied page counted changes: %+v", second)
	assert.Equal(t, "https://provider.test/delta?token=def", store.drives["d1"].DeltaCursor)
}

func TestSync_StartsFromStoredCursor(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1", DeltaCursor: "https://provider.test/delta?token=old"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/delta?token=old": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	_, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://provider.test/delta?token=old"}, client.calls)
	assert.Empty(t, store.purged)
}

func TestSync_FullWalkPurgesAndStartsFromRoot(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1", DeltaCursor: "https://provider.test/delta?token=old"}
	store.items["stale"] = &models.Item{ID: "stale", DriveID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
				Value: []graph.DriveItem{
					fileRecord("i1", "a.mp4", "/drive/root:", "c1"),
				},
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"d1"}, store.purged)
	assert.Equal(t, 1, counter.Added)
	assert.NotContains(t, store.items, "stale")
}

func TestSync_CursorOnlyMovesAfterCleanWalk(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataNextLink: "https://provider.test/page2",
				Value: []graph.DriveItem{
					fileRecord("i1", "a.mp4", "/drive/root:", "c1"),
				},
			},
		},
		errs: map[string]error{
			"https://provider.test/page2": errors.New("connection reset"),
		},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", false)
	require.Error(t, err)

	// The first page was reconciled, but the cursor must not move.
	assert.Equal(t, 1, counter.Added)
	assert.Empty(t, store.driveUpdates)
	assert.Equal(t, "", store.drives["d1"].DeltaCursor)
}

func TestSync_Tombstones(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}
	store.items["i1"] = &models.Item{ID: "i1", DriveID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
				Value: []graph.DriveItem{
					{ID: "i1", Deleted: &graph.DeletedFacet{State: "deleted"}},
					// A tombstone for something never cataloged does not count.
					{ID: "ghost", Deleted: &graph.DeletedFacet{}},
				},
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, counter.Deleted)
	assert.NotContains(t, store.items, "i1")
}

func TestSync_SkipsForeignRecords(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
				Value: []graph.DriveItem{
					{ODataType: "#microsoft.graph.listItem", ID: "x1", Name: "not ours"},
					fileRecord("i1", "a.mp4", "/drive/root:", "c1"),
				},
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, counter.Added)
	assert.NotContains(t, store.items, "x1")
}

func TestSync_SecondWalkIsGuarded(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
			},
		},
		info:  &graph.DriveInfo{},
		block: make(chan struct{}),
	}

	s := New(store, client, staticTokens{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background(), "d1", false)
		done <- err
	}()

	// Wait for the first walk to hold the guard.
	for !s.InProgress("d1") {
		time.Sleep(time.Millisecond)
	}

	_, err := s.Sync(context.Background(), "d1", false)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(client.block)
	require.NoError(t, <-done)
	assert.False(t, s.InProgress("d1"))
}

func TestSync_UpdatedItemsCount(t *testing.T) {
	store := newFakeStore()
	store.drives["d1"] = &models.Drive{ID: "d1"}
	store.items["i1"] = &models.Item{ID: "i1", DriveID: "d1", CTag: "old"}

	client := &fakeClient{
		pages: map[string]*graph.DeltaPage{
			"https://provider.test/root/delta": {
				ODataDeltaLink: "https://provider.test/delta?token=new",
				Value: []graph.DriveItem{
					fileRecord("i1", "a.mp4", "/drive/root:", "new"),
				},
			},
		},
		info: &graph.DriveInfo{},
	}

	s := New(store, client, staticTokens{}, testLogger())
	counter, err := s.Sync(context.Background(), "d1", false)
	require.NoError(t, err)

	assert.Equal(t, Counter{Updated: 1}, counter)
}
