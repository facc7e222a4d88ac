// Package storage defines the metadata records and store contract for the
// media cache.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/analysis"
)

// ErrNotFound indicates a requested cache entry is missing.
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidInput indicates a malformed key or record.
var ErrInvalidInput = errors.New("invalid input")

// Entry is the metadata row for one cached media file.
type Entry struct {
	// Key is the stable digest of OriginalURL and the row's primary identity.
	Key         string
	OriginalURL string
	StoragePath string
	Kind        mediacache.Kind
	ContentType string
	SizeBytes   int64

	CreatedAt      time.Time
	LastAccessedAt time.Time

	// Provenance; optional, not part of identity.
	BrandName string
	AdID      string

	// Analysis is nil until an analysis is attached. AnalysisCachedAt is set
	// whenever Analysis is written or replaced.
	Analysis         *analysis.Payload
	AnalysisCachedAt *time.Time

	// Quick-filter fields derived from Analysis at attach time.
	DominantColors []string
	HasPeople      bool
	TextElements   []string

	// Video-only metadata.
	DurationSeconds *float64
	HasAudio        *bool
}

// SearchFilter narrows a metadata search. Zero-valued fields do not filter.
type SearchFilter struct {
	BrandName     string
	HasPeople     *bool
	ColorContains string
	Kind          mediacache.Kind
}

// KindStats aggregates counts for one media kind.
type KindStats struct {
	Count     int64
	SizeBytes int64
	Analyzed  int64
}

// Stats summarises the cache contents.
type Stats struct {
	TotalFiles     int64
	TotalSizeBytes int64
	AnalyzedFiles  int64
	UniqueBrands   int64

	Images KindStats
	Videos KindStats

	// AvgVideoDurationSeconds is zero when no video reports a duration.
	AvgVideoDurationSeconds float64
}

// RemovedEntry carries what the cache service needs to delete the blob that
// belonged to an evicted row.
type RemovedEntry struct {
	Key         string
	StoragePath string
	Kind        mediacache.Kind
	SizeBytes   int64
}

// MetadataStore persists cache entries. Implementations must serialise writes
// and keep individual rows atomic under concurrent readers.
type MetadataStore interface {
	// Get returns the entry for key, optionally restricted to one kind.
	Get(ctx context.Context, key string, kind mediacache.Kind) (Entry, error)
	// GetBatch answers every requested key in one query; missing keys are
	// simply absent from the returned map.
	GetBatch(ctx context.Context, keys []string, kind mediacache.Kind) (map[string]Entry, error)
	// Put inserts or replaces the entry stored under entry.Key.
	Put(ctx context.Context, entry Entry) error
	// PutBatch bulk-inserts entries inside one transaction.
	PutBatch(ctx context.Context, entries []Entry) error
	// UpdateAnalysis replaces the analysis payload and recomputes the derived
	// quick-filter columns. Returns ErrNotFound when no entry exists for key.
	UpdateAnalysis(ctx context.Context, key string, payload *analysis.Payload, attachedAt time.Time) error
	// Touch moves the entry's last-accessed time forward.
	Touch(ctx context.Context, key string, accessedAt time.Time) error
	// Delete removes one entry's metadata. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// DeleteCreatedBefore removes every entry created before cutoff and
	// reports what was removed so callers can delete the matching blobs.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) ([]RemovedEntry, error)
	// Search returns entries matching filter, most recently accessed first.
	Search(ctx context.Context, filter SearchFilter) ([]Entry, error)
	// Stats aggregates cache-wide counters.
	Stats(ctx context.Context) (Stats, error)
}
