package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/objectstore"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var errInjected = errors.New("injected failure")

// faultyObjects wraps the in-memory store and fails selected calls. writeThenFailAt
// stores the object and still reports a timeout.
type faultyObjects struct {
	*objectstore.MemoryStore
	mu              sync.Mutex
	puts            int
	failPutAt       int
	writeThenFailAt int
	failRemove      bool
	onPut           func(count int)
}

func (f *faultyObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	f.puts++
	count := f.puts
	f.mu.Unlock()
	if f.failPutAt > 0 && count == f.failPutAt {
		return errInjected
	}
	if err := f.MemoryStore.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	if f.writeThenFailAt > 0 && count == f.writeThenFailAt {
		return fmt.Errorf("%w: %w", errInjected, context.DeadlineExceeded)
	}
	if f.onPut != nil {
		f.onPut(count)
	}
	return nil
}

func (f *faultyObjects) Remove(ctx context.Context, keys []string) error {
	if f.failRemove {
		return &objectstore.RemoveError{Keys: append([]string(nil), keys...), Cause: errInjected}
	}
	return f.MemoryStore.Remove(ctx, keys)
}

// faultyMetadata wraps the gorm store and fails selected calls.
type faultyMetadata struct {
	*GormStore
	insertImages        int
	failInsertImageAt   int
	failDeleteImage     bool
	failUpdateImageFor  string
	failUpdateImageOnce bool
	listImages          int
	failListImagesAt    int
	staleSlugLookups    int
	onDeleteImage       func(imageID string)
}

func (f *faultyMetadata) ListImages(ctx context.Context, entryID string) ([]Image, error) {
	f.listImages++
	if f.failListImagesAt > 0 && f.listImages == f.failListImagesAt {
		return nil, errInjected
	}
	return f.GormStore.ListImages(ctx, entryID)
}

// FindEntryBySlug misses the first staleSlugLookups calls, as a lookup that raced a
// concurrent insert would.
func (f *faultyMetadata) FindEntryBySlug(ctx context.Context, slug string) (Entry, error) {
	if f.staleSlugLookups > 0 {
		f.staleSlugLookups--
		return Entry{}, ErrNotFound
	}
	return f.GormStore.FindEntryBySlug(ctx, slug)
}

func (f *faultyMetadata) InsertImage(ctx context.Context, image Image) error {
	f.insertImages++
	if f.failInsertImageAt > 0 && f.insertImages == f.failInsertImageAt {
		return errInjected
	}
	return f.GormStore.InsertImage(ctx, image)
}

func (f *faultyMetadata) DeleteImage(ctx context.Context, imageID string) error {
	if f.failDeleteImage {
		return errInjected
	}
	if err := f.GormStore.DeleteImage(ctx, imageID); err != nil {
		return err
	}
	if f.onDeleteImage != nil {
		f.onDeleteImage(imageID)
	}
	return nil
}

func (f *faultyMetadata) UpdateImageOrder(ctx context.Context, imageID string, displayOrder int) error {
	if f.failUpdateImageFor == imageID {
		if f.failUpdateImageOnce {
			f.failUpdateImageFor = ""
		}
		return errInjected
	}
	return f.GormStore.UpdateImageOrder(ctx, imageID, displayOrder)
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []OrphanReport
}

func (r *recordingReporter) ReportOrphans(_ context.Context, report OrphanReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recordingReporter) all() []OrphanReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrphanReport(nil), r.reports...)
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	objects  *faultyObjects
	metadata *faultyMetadata
	orphans  *recordingReporter
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:exhibits_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}, &Image{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct gorm store: %v", err)
	}

	harness := &testHarness{
		db:       db,
		objects:  &faultyObjects{MemoryStore: objectstore.NewMemoryStore("https://cdn.test")},
		metadata: &faultyMetadata{GormStore: store},
		orphans:  &recordingReporter{},
	}

	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(1700000000+tick, 0).UTC()
	}
	service, err := NewService(ServiceConfig{
		Metadata:            harness.metadata,
		Objects:             harness.objects,
		IDProvider:          NewUUIDProvider(),
		Orphans:             harness.orphans,
		Clock:               clock,
		MaxUploadBytes:      1 << 20,
		CompensationTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct gallery service: %v", err)
	}
	harness.service = service
	return harness
}

func pngUpload(name string) Upload {
	return Upload{Filename: name + ".png", ContentType: "image/png", Data: []byte("png:" + name)}
}

func mainRequest(kind, title string, main string, additional ...string) MediaRequest {
	request := MediaRequest{Kind: kind, Title: title, Caption: "caption for " + title}
	if main != "" {
		upload := pngUpload(main)
		request.Main = &upload
	}
	for _, name := range additional {
		request.Additional = append(request.Additional, pngUpload(name))
	}
	return request
}

func (h *testHarness) mustCreate(t *testing.T, request MediaRequest) MediaResult {
	t.Helper()
	result, err := h.service.CreateOrUpdateEntryMedia(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected saga error: %v", err)
	}
	return result
}

func (h *testHarness) images(t *testing.T, entryID string) []Image {
	t.Helper()
	var images []Image
	if err := h.db.Where("entry_id = ?", entryID).Order(orderDisplay).Find(&images).Error; err != nil {
		t.Fatalf("failed to load images: %v", err)
	}
	return images
}

func (h *testHarness) entryCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&Entry{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	return count
}

func (h *testHarness) imageCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&Image{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count images: %v", err)
	}
	return count
}

// assertEntryInvariants checks one primary and a dense order over the entry's images.
func assertEntryInvariants(t *testing.T, h *testHarness, entryID string) []Image {
	t.Helper()
	images := h.images(t, entryID)
	primaries := 0
	orders := make([]int, 0, len(images))
	for _, image := range images {
		if image.IsPrimary {
			primaries++
		}
		orders = append(orders, image.DisplayOrder)
		if _, ok := h.objects.Get(image.StorageKey); !ok {
			t.Fatalf("image %s references missing object %s", image.ID, image.StorageKey)
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary image, got %d", primaries)
	}
	if !isDense(orders) {
		t.Fatalf("expected dense display order, got %v", orders)
	}
	return images
}

// isDense reports whether orders is a permutation of 0..len(orders)-1.
func isDense(orders []int) bool {
	seen := make([]bool, len(orders))
	for _, order := range orders {
		if order < 0 || order >= len(orders) || seen[order] {
			return false
		}
		seen[order] = true
	}
	return true
}
