package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

// Search returns entries matching filter, most recently accessed first.
func (s *Store) Search(ctx context.Context, filter storage.SearchFilter) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := "SELECT " + entryColumns + " FROM media_cache WHERE 1=1"
	var args []any

	if brand := strings.TrimSpace(filter.BrandName); brand != "" {
		query += " AND brand_name = ?"
		args = append(args, brand)
	}
	if filter.HasPeople != nil {
		query += " AND has_people = ?"
		args = append(args, *filter.HasPeople)
	}
	if color := strings.TrimSpace(filter.ColorContains); color != "" {
		query += " AND dominant_colors LIKE ?"
		args = append(args, "%"+color+"%")
	}
	if filter.Kind != mediacache.KindAny {
		query += " AND media_kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY last_accessed_at DESC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search cache entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("search cache entries: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search cache entries: %w", err)
	}
	return entries, nil
}

// DeleteCreatedBefore removes every entry created before cutoff and reports
// the removed rows so the caller can delete the matching blobs.
func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) ([]storage.RemovedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin eviction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT url_key, storage_path, media_kind, size_bytes FROM media_cache WHERE created_at < ?",
		toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list evictable entries: %w", err)
	}

	var removed []storage.RemovedEntry
	for rows.Next() {
		var entry storage.RemovedEntry
		var kind string
		if err := rows.Scan(&entry.Key, &entry.StoragePath, &kind, &entry.SizeBytes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan evictable entry: %w", err)
		}
		entry.Kind = mediacache.Kind(kind)
		removed = append(removed, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list evictable entries: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM media_cache WHERE created_at < ?", toMillis(cutoff)); err != nil {
		return nil, fmt.Errorf("delete evicted entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit eviction: %w", err)
	}
	return removed, nil
}

// Stats aggregates cache-wide counters.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Stats{}, fmt.Errorf("storage is not configured")
	}

	var stats storage.Stats

	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(size_bytes), 0),
		       COUNT(CASE WHEN analysis_json IS NOT NULL THEN 1 END),
		       COUNT(DISTINCT NULLIF(brand_name, ''))
		  FROM media_cache`)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalSizeBytes, &stats.AnalyzedFiles, &stats.UniqueBrands); err != nil {
		return storage.Stats{}, fmt.Errorf("cache stats: %w", err)
	}

	imageStats, _, err := s.kindStats(ctx, mediacache.KindImage)
	if err != nil {
		return storage.Stats{}, err
	}
	stats.Images = imageStats

	videoStats, avgDuration, err := s.kindStats(ctx, mediacache.KindVideo)
	if err != nil {
		return storage.Stats{}, err
	}
	stats.Videos = videoStats
	stats.AvgVideoDurationSeconds = avgDuration

	return stats, nil
}

func (s *Store) kindStats(ctx context.Context, kind mediacache.Kind) (storage.KindStats, float64, error) {
	var stats storage.KindStats
	var avgDuration sql.NullFloat64

	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(size_bytes), 0),
		       COUNT(CASE WHEN analysis_json IS NOT NULL THEN 1 END),
		       AVG(duration_seconds)
		  FROM media_cache
		 WHERE media_kind = ?`, string(kind))
	if err := row.Scan(&stats.Count, &stats.SizeBytes, &stats.Analyzed, &avgDuration); err != nil {
		return storage.KindStats{}, 0, fmt.Errorf("cache stats for %s: %w", kind, err)
	}
	return stats, avgDuration.Float64, nil
}
