package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/analysis"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

const putEntrySQL = `INSERT OR REPLACE INTO media_cache (
	url_key, original_url, storage_path, media_kind, content_type, size_bytes,
	created_at, last_accessed_at, brand_name, ad_id,
	analysis_json, analysis_cached_at, dominant_colors, has_people, text_elements,
	duration_seconds, has_audio
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Get returns the entry stored under key, optionally restricted to one kind.
func (s *Store) Get(ctx context.Context, key string, kind mediacache.Kind) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Entry{}, fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.Entry{}, fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}

	query := "SELECT " + entryColumns + " FROM media_cache WHERE url_key = ?"
	args := []any{key}
	if kind != mediacache.KindAny {
		query += " AND media_kind = ?"
		args = append(args, string(kind))
	}

	entry, err := scanEntry(s.sqlDB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Entry{}, storage.ErrNotFound
		}
		return storage.Entry{}, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

// GetBatch fetches every requested key in one query. Keys without a row are
// absent from the result map.
func (s *Store) GetBatch(ctx context.Context, keys []string, kind mediacache.Kind) (map[string]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, key)
	}
	if len(unique) == 0 {
		return map[string]storage.Entry{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	query := "SELECT " + entryColumns + " FROM media_cache WHERE url_key IN (" + placeholders + ")"
	args := make([]any, 0, len(unique)+1)
	for _, key := range unique {
		args = append(args, key)
	}
	if kind != mediacache.KindAny {
		query += " AND media_kind = ?"
		args = append(args, string(kind))
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch get cache entries: %w", err)
	}
	defer rows.Close()

	found := make(map[string]storage.Entry, len(unique))
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("batch get cache entries: %w", err)
		}
		found[entry.Key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch get cache entries: %w", err)
	}
	return found, nil
}

// Put inserts or replaces the entry stored under entry.Key.
func (s *Store) Put(ctx context.Context, entry storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	args, err := putArgs(entry)
	if err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, putEntrySQL, args...); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// PutBatch bulk-inserts entries inside one transaction. A row that fails to
// insert is logged and skipped; the rest of the batch still commits.
func (s *Store) PutBatch(ctx context.Context, entries []storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch put: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, putEntrySQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch put: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		args, err := putArgs(entry)
		if err != nil {
			log.Printf("media cache: skipping invalid batch entry %s: %v", entry.Key, err)
			continue
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			log.Printf("media cache: batch put failed for key %s: %v", entry.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch put: %w", err)
	}
	return nil
}

func putArgs(entry storage.Entry) ([]any, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastAccessedAt := entry.LastAccessedAt
	if lastAccessedAt.IsZero() {
		lastAccessedAt = createdAt
	}

	analysisJSON, err := encodeAnalysis(entry.Analysis)
	if err != nil {
		return nil, err
	}
	var analysisCachedAt sql.NullInt64
	if entry.AnalysisCachedAt != nil {
		analysisCachedAt = sql.NullInt64{Int64: toMillis(*entry.AnalysisCachedAt), Valid: true}
	} else if analysisJSON.Valid {
		analysisCachedAt = sql.NullInt64{Int64: toMillis(now), Valid: true}
	}

	derived := analysis.Derive(entry.Analysis)
	dominantColors := entry.DominantColors
	hasPeople := entry.HasPeople
	textElements := entry.TextElements
	if entry.Analysis != nil {
		dominantColors = derived.DominantColors
		hasPeople = derived.HasPeople
		textElements = derived.TextElements
	}

	var durationSeconds sql.NullFloat64
	if entry.DurationSeconds != nil {
		durationSeconds = sql.NullFloat64{Float64: *entry.DurationSeconds, Valid: true}
	}
	var hasAudio sql.NullBool
	if entry.HasAudio != nil {
		hasAudio = sql.NullBool{Bool: *entry.HasAudio, Valid: true}
	}

	return []any{
		strings.TrimSpace(entry.Key),
		entry.OriginalURL,
		entry.StoragePath,
		string(entry.Kind),
		entry.ContentType,
		entry.SizeBytes,
		toMillis(createdAt),
		toMillis(lastAccessedAt),
		entry.BrandName,
		entry.AdID,
		analysisJSON,
		analysisCachedAt,
		joinList(dominantColors, colorSeparator),
		hasPeople,
		joinList(textElements, textSeparator),
		durationSeconds,
		hasAudio,
	}, nil
}

// UpdateAnalysis replaces the analysis payload for key and recomputes the
// derived quick-filter columns in the same statement.
func (s *Store) UpdateAnalysis(ctx context.Context, key string, payload *analysis.Payload, attachedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	if payload == nil {
		return fmt.Errorf("%w: analysis payload is required", storage.ErrInvalidInput)
	}
	if attachedAt.IsZero() {
		attachedAt = time.Now().UTC()
	}

	analysisJSON, err := encodeAnalysis(payload)
	if err != nil {
		return err
	}
	derived := analysis.Derive(payload)

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE media_cache
		    SET analysis_json = ?,
		        analysis_cached_at = ?,
		        dominant_colors = ?,
		        has_people = ?,
		        text_elements = ?
		  WHERE url_key = ?`,
		analysisJSON.String,
		toMillis(attachedAt),
		joinList(derived.DominantColors, colorSeparator),
		derived.HasPeople,
		joinList(derived.TextElements, textSeparator),
		key,
	)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch moves the entry's last-accessed time forward.
func (s *Store) Touch(ctx context.Context, key string, accessedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	if accessedAt.IsZero() {
		accessedAt = time.Now().UTC()
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		"UPDATE media_cache SET last_accessed_at = ? WHERE url_key = ?",
		toMillis(accessedAt), key,
	); err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry's metadata row. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM media_cache WHERE url_key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}
