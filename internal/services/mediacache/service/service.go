// Package service exposes the media cache façade. All callers go through
// Cache; the blob and metadata layers are never reached directly.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/analysis"
	"github.com/adscope/adscope/internal/services/mediacache/blob"
	"github.com/adscope/adscope/internal/services/mediacache/key"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

// Cache coordinates the blob store and the metadata store. Reads self-heal:
// a metadata row whose blob file is gone is purged and reported as a miss.
type Cache struct {
	blobs *blob.Store
	meta  storage.MetadataStore
}

// New returns a cache over the given blob and metadata stores.
func New(blobs *blob.Store, meta storage.MetadataStore) (*Cache, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	return &Cache{blobs: blobs, meta: meta}, nil
}

// PutRequest carries everything needed to admit one media file.
type PutRequest struct {
	URL         string
	Data        []byte
	ContentType string
	Kind        mediacache.Kind

	BrandName string
	AdID      string

	Analysis        *analysis.Payload
	DurationSeconds *float64
	HasAudio        *bool
}

// EvictionReport summarises one eviction pass.
type EvictionReport struct {
	FilesRemoved  int
	BytesFreed    int64
	ImagesRemoved int
	VideosRemoved int
}

// GetCached returns the entry cached for url, optionally restricted to one
// kind. A row whose blob file is missing is purged and reported as a miss.
// Genuine hits have their last-accessed time moved forward before returning.
func (c *Cache) GetCached(ctx context.Context, url string, kind mediacache.Kind) (storage.Entry, error) {
	cacheKey, err := key.Identify(url)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	entry, err := c.meta.Get(ctx, cacheKey, kind)
	if err != nil {
		return storage.Entry{}, err
	}
	if !c.blobs.Exists(entry.StoragePath) {
		c.purgeStale(ctx, entry)
		return storage.Entry{}, storage.ErrNotFound
	}

	accessedAt := time.Now().UTC()
	if err := c.meta.Touch(ctx, cacheKey, accessedAt); err != nil {
		return storage.Entry{}, fmt.Errorf("touch cache entry: %w", err)
	}
	entry.LastAccessedAt = accessedAt
	return entry, nil
}

// GetCachedBatch answers every input URL in one pass. The returned map has
// exactly the input URLs as keys, duplicates included; a nil value is a miss.
// Stale rows are purged per entry and hits are touched in the same pass.
func (c *Cache) GetCachedBatch(ctx context.Context, urls []string, kind mediacache.Kind) (map[string]*storage.Entry, error) {
	keyByURL := make(map[string]string, len(urls))
	uniqueKeys := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, url := range urls {
		cacheKey, err := key.Identify(url)
		if err != nil {
			continue
		}
		keyByURL[url] = cacheKey
		if !seen[cacheKey] {
			seen[cacheKey] = true
			uniqueKeys = append(uniqueKeys, cacheKey)
		}
	}

	found := map[string]storage.Entry{}
	if len(uniqueKeys) > 0 {
		var err error
		found, err = c.meta.GetBatch(ctx, uniqueKeys, kind)
		if err != nil {
			return nil, err
		}
	}

	accessedAt := time.Now().UTC()
	hits := make(map[string]storage.Entry, len(found))
	for cacheKey, entry := range found {
		if !c.blobs.Exists(entry.StoragePath) {
			c.purgeStale(ctx, entry)
			continue
		}
		if err := c.meta.Touch(ctx, cacheKey, accessedAt); err != nil {
			return nil, fmt.Errorf("touch cache entry: %w", err)
		}
		entry.LastAccessedAt = accessedAt
		hits[cacheKey] = entry
	}

	results := make(map[string]*storage.Entry, len(urls))
	for _, url := range urls {
		results[url] = nil
		if cacheKey, ok := keyByURL[url]; ok {
			if entry, ok := hits[cacheKey]; ok {
				value := entry
				results[url] = &value
			}
		}
	}
	return results, nil
}

// Put admits one media file: blob first, metadata second. This is the only
// way new entries enter the cache. Re-putting a URL replaces both the bytes
// and the metadata.
func (c *Cache) Put(ctx context.Context, req PutRequest) (string, error) {
	entry, err := c.writeBlob(req)
	if err != nil {
		return "", err
	}
	if err := c.meta.Put(ctx, entry); err != nil {
		// The blob written above is now orphaned; harmless, a later re-put
		// under the same key overwrites it.
		return "", fmt.Errorf("put cache metadata: %w", err)
	}
	return entry.StoragePath, nil
}

// PutBatch admits many media files. All blobs are written before any metadata
// so a metadata failure never references unwritten bytes; a blob write
// failure aborts the batch before metadata is touched. Returned paths are in
// input order.
func (c *Cache) PutBatch(ctx context.Context, reqs []PutRequest) ([]string, error) {
	entries := make([]storage.Entry, 0, len(reqs))
	paths := make([]string, 0, len(reqs))
	for i, req := range reqs {
		entry, err := c.writeBlob(req)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		entries = append(entries, entry)
		paths = append(paths, entry.StoragePath)
	}
	if len(entries) == 0 {
		return paths, nil
	}
	if err := c.meta.PutBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("put cache metadata: %w", err)
	}
	return paths, nil
}

func (c *Cache) writeBlob(req PutRequest) (storage.Entry, error) {
	cacheKey, err := key.Identify(req.URL)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if !req.Kind.Valid() {
		return storage.Entry{}, fmt.Errorf("%w: media kind %q is not storable", storage.ErrInvalidInput, req.Kind)
	}

	path, err := c.blobs.Write(cacheKey, req.Kind, req.ContentType, req.Data)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("write cache blob: %w", err)
	}

	now := time.Now().UTC()
	entry := storage.Entry{
		Key:             cacheKey,
		OriginalURL:     req.URL,
		StoragePath:     path,
		Kind:            req.Kind,
		ContentType:     req.ContentType,
		SizeBytes:       int64(len(req.Data)),
		CreatedAt:       now,
		LastAccessedAt:  now,
		BrandName:       req.BrandName,
		AdID:            req.AdID,
		Analysis:        req.Analysis,
		DurationSeconds: req.DurationSeconds,
		HasAudio:        req.HasAudio,
	}
	if req.Analysis != nil {
		attachedAt := now
		entry.AnalysisCachedAt = &attachedAt
	}
	return entry, nil
}

// AttachAnalysis stores the analysis payload on an existing entry, refreshing
// the attach timestamp. Returns storage.ErrNotFound when url is not cached;
// it never creates an entry.
func (c *Cache) AttachAnalysis(ctx context.Context, url string, payload *analysis.Payload) error {
	cacheKey, err := key.Identify(url)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return c.meta.UpdateAnalysis(ctx, cacheKey, payload, time.Now().UTC())
}

// ReadBlob returns the stored bytes for a previously returned entry.
func (c *Cache) ReadBlob(entry storage.Entry) ([]byte, error) {
	return c.blobs.Read(entry.StoragePath)
}

// Search passes the filter through to the metadata store. Capping the result
// size is the caller's concern.
func (c *Cache) Search(ctx context.Context, filter storage.SearchFilter) ([]storage.Entry, error) {
	return c.meta.Search(ctx, filter)
}

// Stats reports cache-wide counters.
func (c *Cache) Stats(ctx context.Context) (storage.Stats, error) {
	return c.meta.Stats(ctx)
}

// EvictOlderThan removes every entry created more than maxAgeDays ago, by
// creation time, not last access. Blob deletions are best-effort; the report
// counts every evicted row whether or not its file was still on disk.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAgeDays int) (EvictionReport, error) {
	if maxAgeDays < 0 {
		return EvictionReport{}, fmt.Errorf("%w: max age must not be negative", storage.ErrInvalidInput)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	removed, err := c.meta.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return EvictionReport{}, err
	}

	var report EvictionReport
	for _, entry := range removed {
		if err := c.blobs.Delete(entry.StoragePath); err != nil {
			log.Printf("media cache: evict blob %s: %v", entry.StoragePath, err)
		}
		report.FilesRemoved++
		report.BytesFreed += entry.SizeBytes
		switch entry.Kind {
		case mediacache.KindImage:
			report.ImagesRemoved++
		case mediacache.KindVideo:
			report.VideosRemoved++
		}
	}
	return report, nil
}

func (c *Cache) purgeStale(ctx context.Context, entry storage.Entry) {
	if err := c.meta.Delete(ctx, entry.Key); err != nil {
		log.Printf("media cache: purge stale entry %s: %v", entry.Key, err)
	}
}
