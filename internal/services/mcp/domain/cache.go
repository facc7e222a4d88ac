package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/service"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

const cacheCallTimeout = 30 * time.Second

// KindCacheStats aggregates cache counters for one media kind.
type KindCacheStats struct {
	Count     int64 `json:"count" jsonschema:"number of cached files"`
	SizeBytes int64 `json:"size_bytes" jsonschema:"total size in bytes"`
	Analyzed  int64 `json:"analyzed" jsonschema:"number of files with an analysis attached"`
}

// CacheStatsOutput summarises the media cache.
type CacheStatsOutput struct {
	TotalFiles              int64          `json:"total_files" jsonschema:"total number of cached files"`
	TotalSizeBytes          int64          `json:"total_size_bytes" jsonschema:"total cache size in bytes"`
	AnalyzedFiles           int64          `json:"analyzed_files" jsonschema:"files with an analysis attached"`
	UniqueBrands            int64          `json:"unique_brands" jsonschema:"distinct brand names in the cache"`
	Images                  KindCacheStats `json:"images" jsonschema:"image-only counters"`
	Videos                  KindCacheStats `json:"videos" jsonschema:"video-only counters"`
	AvgVideoDurationSeconds float64        `json:"avg_video_duration_seconds" jsonschema:"mean video duration, zero when unknown"`
}

// CacheStatsTool defines the MCP tool schema for cache statistics.
func CacheStatsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_cache_stats",
		Description: "Reports media cache size, counts and analysis coverage",
	}
}

// CacheStatsHandler reports cache-wide counters.
func CacheStatsHandler(cache *service.Cache) mcp.ToolHandlerFor[struct{}, CacheStatsOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, CacheStatsOutput, error) {
		callCtx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
		defer cancel()

		stats, err := cache.Stats(callCtx)
		if err != nil {
			return nil, CacheStatsOutput{}, err
		}
		return nil, CacheStatsOutput{
			TotalFiles:              stats.TotalFiles,
			TotalSizeBytes:          stats.TotalSizeBytes,
			AnalyzedFiles:           stats.AnalyzedFiles,
			UniqueBrands:            stats.UniqueBrands,
			Images:                  KindCacheStats(stats.Images),
			Videos:                  KindCacheStats(stats.Videos),
			AvgVideoDurationSeconds: stats.AvgVideoDurationSeconds,
		}, nil
	}
}

// SearchCachedMediaInput filters cached media entries.
type SearchCachedMediaInput struct {
	BrandName     string `json:"brand_name,omitempty" jsonschema:"exact brand name to match"`
	HasPeople     *bool  `json:"has_people,omitempty" jsonschema:"filter by whether people appear in the creative"`
	ColorContains string `json:"color_contains,omitempty" jsonschema:"match entries whose dominant colors contain this value"`
	MediaKind     string `json:"media_kind,omitempty" jsonschema:"restrict to image or video"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum number of entries to return, default 50"`
}

// CachedMediaEntry is one cached file in a search result.
type CachedMediaEntry struct {
	URL             string   `json:"url" jsonschema:"original media url"`
	MediaKind       string   `json:"media_kind" jsonschema:"image or video"`
	BrandName       string   `json:"brand_name,omitempty" jsonschema:"brand the media belongs to"`
	AdID            string   `json:"ad_id,omitempty" jsonschema:"ad archive id the media belongs to"`
	SizeBytes       int64    `json:"size_bytes" jsonschema:"file size in bytes"`
	Analyzed        bool     `json:"analyzed" jsonschema:"whether an analysis is attached"`
	HasPeople       bool     `json:"has_people" jsonschema:"whether people appear in the creative"`
	DominantColors  []string `json:"dominant_colors,omitempty" jsonschema:"dominant colors from the analysis"`
	TextElements    []string `json:"text_elements,omitempty" jsonschema:"text found in the creative"`
	LastAccessedAt  string   `json:"last_accessed_at" jsonschema:"RFC 3339 time of last cache hit"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty" jsonschema:"video duration when known"`
}

// SearchCachedMediaOutput lists matching cache entries.
type SearchCachedMediaOutput struct {
	Entries []CachedMediaEntry `json:"entries" jsonschema:"matching cache entries, most recently accessed first"`
	Count   int                `json:"count" jsonschema:"number of entries returned"`
}

// SearchCachedMediaTool defines the MCP tool schema for cache search.
func SearchCachedMediaTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_cached_media",
		Description: "Searches cached media by brand, people presence, color or kind",
	}
}

// SearchCachedMediaHandler searches the cache by derived quick-filter fields.
func SearchCachedMediaHandler(cache *service.Cache) mcp.ToolHandlerFor[SearchCachedMediaInput, SearchCachedMediaOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchCachedMediaInput) (*mcp.CallToolResult, SearchCachedMediaOutput, error) {
		kind, err := mediacache.ParseKind(input.MediaKind)
		if err != nil {
			return nil, SearchCachedMediaOutput{}, err
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}

		callCtx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
		defer cancel()

		entries, err := cache.Search(callCtx, storage.SearchFilter{
			BrandName:     input.BrandName,
			HasPeople:     input.HasPeople,
			ColorContains: input.ColorContains,
			Kind:          kind,
		})
		if err != nil {
			return nil, SearchCachedMediaOutput{}, err
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}

		out := make([]CachedMediaEntry, 0, len(entries))
		for _, entry := range entries {
			out = append(out, CachedMediaEntry{
				URL:             entry.OriginalURL,
				MediaKind:       string(entry.Kind),
				BrandName:       entry.BrandName,
				AdID:            entry.AdID,
				SizeBytes:       entry.SizeBytes,
				Analyzed:        entry.Analysis != nil,
				HasPeople:       entry.HasPeople,
				DominantColors:  entry.DominantColors,
				TextElements:    entry.TextElements,
				LastAccessedAt:  entry.LastAccessedAt.Format(time.RFC3339),
				DurationSeconds: entry.DurationSeconds,
			})
		}
		return nil, SearchCachedMediaOutput{Entries: out, Count: len(out)}, nil
	}
}

// CleanupCacheInput configures an eviction pass.
type CleanupCacheInput struct {
	MaxAgeDays int `json:"max_age_days" jsonschema:"evict entries created more than this many days ago"`
}

// CleanupCacheOutput reports what an eviction pass removed.
type CleanupCacheOutput struct {
	FilesRemoved  int   `json:"files_removed" jsonschema:"number of entries evicted"`
	BytesFreed    int64 `json:"bytes_freed" jsonschema:"total bytes freed"`
	ImagesRemoved int   `json:"images_removed" jsonschema:"evicted image entries"`
	VideosRemoved int   `json:"videos_removed" jsonschema:"evicted video entries"`
}

// CleanupCacheTool defines the MCP tool schema for cache eviction.
func CleanupCacheTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "cleanup_media_cache",
		Description: "Evicts cached media older than a given age and reports freed space",
	}
}

// CleanupCacheHandler evicts entries older than the requested age.
func CleanupCacheHandler(cache *service.Cache) mcp.ToolHandlerFor[CleanupCacheInput, CleanupCacheOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CleanupCacheInput) (*mcp.CallToolResult, CleanupCacheOutput, error) {
		if input.MaxAgeDays <= 0 {
			return nil, CleanupCacheOutput{}, fmt.Errorf("max_age_days must be positive")
		}

		callCtx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
		defer cancel()

		report, err := cache.EvictOlderThan(callCtx, input.MaxAgeDays)
		if err != nil {
			return nil, CleanupCacheOutput{}, err
		}
		return nil, CleanupCacheOutput{
			FilesRemoved:  report.FilesRemoved,
			BytesFreed:    report.BytesFreed,
			ImagesRemoved: report.ImagesRemoved,
			VideosRemoved: report.VideosRemoved,
		}, nil
	}
}
