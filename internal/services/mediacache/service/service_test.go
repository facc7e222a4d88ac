package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/analysis"
	"github.com/adscope/adscope/internal/services/mediacache/blob"
	"github.com/adscope/adscope/internal/services/mediacache/key"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
	"github.com/adscope/adscope/internal/services/mediacache/storage/sqlite"
)

func openTempCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blob.New(dir)
	if err != nil {
		t.Fatalf("blob.New() error = %v", err)
	}
	meta, err := sqlite.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := meta.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	cache, err := New(blobs, meta)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	data := []byte("0123456789")
	path, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/a.jpg",
		Data:        data,
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
		BrandName:   "Acme",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Errorf("Put() path = %q, want .jpg extension", path)
	}

	entry, err := cache.GetCached(ctx, "https://x/a.jpg", mediacache.KindAny)
	if err != nil {
		t.Fatalf("GetCached() error = %v", err)
	}
	if entry.SizeBytes != 10 {
		t.Errorf("SizeBytes = %d, want 10", entry.SizeBytes)
	}
	if entry.Kind != mediacache.KindImage {
		t.Errorf("Kind = %q, want image", entry.Kind)
	}
	if entry.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", entry.ContentType)
	}

	stored, err := cache.ReadBlob(entry)
	if err != nil {
		t.Fatalf("ReadBlob() error = %v", err)
	}
	if string(stored) != string(data) {
		t.Errorf("ReadBlob() = %q, want %q", stored, data)
	}
}

func TestCacheMiss(t *testing.T) {
	cache := openTempCache(t)

	if _, err := cache.GetCached(context.Background(), "https://x/missing.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCached() error = %v, want ErrNotFound", err)
	}
}

func TestCacheInvalidURL(t *testing.T) {
	cache := openTempCache(t)

	if _, err := cache.GetCached(context.Background(), "  ", mediacache.KindAny); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("GetCached() error = %v, want ErrInvalidInput", err)
	}
	if _, err := cache.Put(context.Background(), PutRequest{URL: "", Kind: mediacache.KindImage}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Put() error = %v, want ErrInvalidInput", err)
	}
}

func TestCacheSelfHealing(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	path, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/a.jpg",
		Data:        []byte("0123456789"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Delete the blob out-of-band; the entry must now read as a miss and
	// vanish from search.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if _, err := cache.GetCached(ctx, "https://x/a.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetCached() after blob delete error = %v, want ErrNotFound", err)
	}
	entries, err := cache.Search(ctx, storage.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Search() returned %d entries after purge, want 0", len(entries))
	}

	// Re-put with different bytes revives the URL.
	if _, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/a.jpg",
		Data:        []byte("01234567890123456789"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	}); err != nil {
		t.Fatalf("re-Put() error = %v", err)
	}
	entry, err := cache.GetCached(ctx, "https://x/a.jpg", mediacache.KindAny)
	if err != nil {
		t.Fatalf("GetCached() after re-put error = %v", err)
	}
	if entry.SizeBytes != 20 {
		t.Errorf("SizeBytes = %d, want 20", entry.SizeBytes)
	}
}

func TestCacheRePutReplaces(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second body"} {
		if _, err := cache.Put(ctx, PutRequest{
			URL:         "https://x/dup.png",
			Data:        []byte(body),
			ContentType: "image/png",
			Kind:        mediacache.KindImage,
		}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	entries, err := cache.Search(ctx, storage.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Search() returned %d entries, want 1", len(entries))
	}
	if entries[0].SizeBytes != int64(len("second body")) {
		t.Errorf("SizeBytes = %d, want %d", entries[0].SizeBytes, len("second body"))
	}
	stored, err := cache.ReadBlob(entries[0])
	if err != nil {
		t.Fatalf("ReadBlob() error = %v", err)
	}
	if string(stored) != "second body" {
		t.Errorf("ReadBlob() = %q, want %q", stored, "second body")
	}
}

func TestCacheGetCachedBatchCompleteness(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	if _, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/hit.jpg",
		Data:        []byte("img"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	stalePath, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/stale.jpg",
		Data:        []byte("img"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := os.Remove(stalePath); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	urls := []string{"https://x/hit.jpg", "https://x/miss.jpg", "https://x/stale.jpg", "https://x/hit.jpg", ""}
	results, err := cache.GetCachedBatch(ctx, urls, mediacache.KindAny)
	if err != nil {
		t.Fatalf("GetCachedBatch() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("GetCachedBatch() returned %d keys, want 4 distinct input urls", len(results))
	}
	for _, url := range urls {
		if _, ok := results[url]; !ok {
			t.Errorf("GetCachedBatch() missing input url %q", url)
		}
	}
	if results["https://x/hit.jpg"] == nil {
		t.Error("hit url reported as miss")
	}
	if results["https://x/miss.jpg"] != nil {
		t.Error("miss url reported as hit")
	}
	if results["https://x/stale.jpg"] != nil {
		t.Error("stale url reported as hit")
	}
	if results[""] != nil {
		t.Error("empty url reported as hit")
	}

	// The stale row must be gone after the batch pass.
	if _, err := cache.GetCached(ctx, "https://x/stale.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCached(stale) error = %v, want ErrNotFound", err)
	}
}

func TestCachePutBatch(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	duration := 5.0
	paths, err := cache.PutBatch(ctx, []PutRequest{
		{URL: "https://x/one.jpg", Data: []byte("a"), ContentType: "image/jpeg", Kind: mediacache.KindImage},
		{URL: "https://x/two.mp4", Data: []byte("bb"), ContentType: "video/mp4", Kind: mediacache.KindVideo, DurationSeconds: &duration},
	})
	if err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("PutBatch() returned %d paths, want 2", len(paths))
	}
	if filepath.Ext(paths[0]) != ".jpg" || filepath.Ext(paths[1]) != ".mp4" {
		t.Errorf("PutBatch() paths = %v, want .jpg then .mp4", paths)
	}

	for _, url := range []string{"https://x/one.jpg", "https://x/two.mp4"} {
		if _, err := cache.GetCached(ctx, url, mediacache.KindAny); err != nil {
			t.Errorf("GetCached(%s) error = %v", url, err)
		}
	}
}

func TestCachePutBatchBadEntryFailsBeforeMetadata(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	_, err := cache.PutBatch(ctx, []PutRequest{
		{URL: "https://x/ok.jpg", Data: []byte("a"), ContentType: "image/jpeg", Kind: mediacache.KindImage},
		{URL: "https://x/bad", Kind: mediacache.Kind("audio")},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("PutBatch() error = %v, want ErrInvalidInput", err)
	}

	// No metadata was written for any batch member.
	if _, err := cache.GetCached(ctx, "https://x/ok.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCached(ok) error = %v, want ErrNotFound", err)
	}
}

func TestCacheAttachAnalysis(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	if _, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/a.jpg",
		Data:        []byte("img"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	payload := &analysis.Payload{
		Summary:           "sneaker on white",
		PeopleDescription: "one person holding the shoe",
	}
	if err := cache.AttachAnalysis(ctx, "https://x/a.jpg", payload); err != nil {
		t.Fatalf("AttachAnalysis() error = %v", err)
	}

	entry, err := cache.GetCached(ctx, "https://x/a.jpg", mediacache.KindAny)
	if err != nil {
		t.Fatalf("GetCached() error = %v", err)
	}
	if entry.Analysis == nil || entry.Analysis.Summary != payload.Summary {
		t.Fatalf("Analysis = %+v, want summary %q", entry.Analysis, payload.Summary)
	}
	if entry.AnalysisCachedAt == nil {
		t.Error("AnalysisCachedAt = nil, want set")
	}
	if !entry.HasPeople {
		t.Error("HasPeople = false, want true")
	}

	hasPeople := true
	entries, err := cache.Search(ctx, storage.SearchFilter{HasPeople: &hasPeople})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Search(has_people) returned %d entries, want 1", len(entries))
	}

	// Re-attaching without a people description removes it from the filter.
	if err := cache.AttachAnalysis(ctx, "https://x/a.jpg", &analysis.Payload{Summary: "sneaker on white"}); err != nil {
		t.Fatalf("AttachAnalysis() error = %v", err)
	}
	entries, err = cache.Search(ctx, storage.SearchFilter{HasPeople: &hasPeople})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Search(has_people) returned %d entries after re-attach, want 0", len(entries))
	}
}

func TestCacheAttachAnalysisMissingEntry(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	err := cache.AttachAnalysis(ctx, "https://x/nope.jpg", &analysis.Payload{Summary: "x"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("AttachAnalysis() error = %v, want ErrNotFound", err)
	}
	if _, err := cache.GetCached(ctx, "https://x/nope.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AttachAnalysis() must not create entries, GetCached() error = %v", err)
	}
}

func TestCacheEvictOlderThan(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	oldPath, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/old.jpg",
		Data:        []byte("old bytes"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/new.mp4",
		Data:        []byte("new"),
		ContentType: "video/mp4",
		Kind:        mediacache.KindVideo,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Backdate the first entry past the cutoff.
	meta := cache.meta
	oldEntry, err := meta.Get(ctx, mustKey(t, "https://x/old.jpg"), mediacache.KindAny)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	oldEntry.CreatedAt = time.Now().UTC().AddDate(0, 0, -40)
	if err := meta.Put(ctx, oldEntry); err != nil {
		t.Fatalf("backdate Put() error = %v", err)
	}

	report, err := cache.EvictOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("EvictOlderThan() error = %v", err)
	}
	if report.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", report.FilesRemoved)
	}
	if report.BytesFreed != int64(len("old bytes")) {
		t.Errorf("BytesFreed = %d, want %d", report.BytesFreed, len("old bytes"))
	}
	if report.ImagesRemoved != 1 || report.VideosRemoved != 0 {
		t.Errorf("per-kind counts = %d images %d videos, want 1/0", report.ImagesRemoved, report.VideosRemoved)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("evicted blob still on disk at %s", oldPath)
	}
	if _, err := cache.GetCached(ctx, "https://x/old.jpg", mediacache.KindAny); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCached(old) error = %v, want ErrNotFound", err)
	}
	if _, err := cache.GetCached(ctx, "https://x/new.mp4", mediacache.KindAny); err != nil {
		t.Errorf("GetCached(new) error = %v", err)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalFiles != 1 {
		t.Errorf("TotalFiles after eviction = %d, want 1", stats.TotalFiles)
	}
}

func TestCacheEvictMissingBlobStillCounted(t *testing.T) {
	cache := openTempCache(t)
	ctx := context.Background()

	path, err := cache.Put(ctx, PutRequest{
		URL:         "https://x/gone.jpg",
		Data:        []byte("bytes"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	entry, err := cache.meta.Get(ctx, mustKey(t, "https://x/gone.jpg"), mediacache.KindAny)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	entry.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	if err := cache.meta.Put(ctx, entry); err != nil {
		t.Fatalf("backdate Put() error = %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	report, err := cache.EvictOlderThan(ctx, 5)
	if err != nil {
		t.Fatalf("EvictOlderThan() error = %v", err)
	}
	if report.FilesRemoved != 1 || report.BytesFreed != int64(len("bytes")) {
		t.Errorf("report = %+v, want 1 file, %d bytes", report, len("bytes"))
	}
}

func TestCacheEvictNegativeAge(t *testing.T) {
	cache := openTempCache(t)

	if _, err := cache.EvictOlderThan(context.Background(), -1); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("EvictOlderThan(-1) error = %v, want ErrInvalidInput", err)
	}
}

func mustKey(t *testing.T, url string) string {
	t.Helper()
	cacheKey, err := key.Identify(url)
	if err != nil {
		t.Fatalf("Identify(%q) error = %v", url, err)
	}
	return cacheKey
}
