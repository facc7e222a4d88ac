// Package sqlite provides the SQLite-backed metadata store for the media
// cache.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/adscope/adscope/internal/platform/storage/sqlitemigrate"
	"github.com/adscope/adscope/internal/services/mediacache"
	"github.com/adscope/adscope/internal/services/mediacache/analysis"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
	"github.com/adscope/adscope/internal/services/mediacache/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists media cache metadata in SQLite. The WAL journal and the
// driver's busy handling provide single-writer/concurrent-reader semantics;
// no application-level lock is layered on top.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the metadata database at path and applies embedded
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

const colorSeparator = ","

// textSeparator matches the flattened text encoding used by the original
// cache files so existing databases stay readable.
const textSeparator = " | "

func joinList(values []string, separator string) string {
	return strings.Join(values, separator)
}

func splitList(value, separator string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, separator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

const entryColumns = `url_key, original_url, storage_path, media_kind, content_type, size_bytes,
	created_at, last_accessed_at, brand_name, ad_id,
	analysis_json, analysis_cached_at, dominant_colors, has_people, text_elements,
	duration_seconds, has_audio`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (storage.Entry, error) {
	var (
		entry            storage.Entry
		kind             string
		createdAt        int64
		lastAccessedAt   int64
		analysisJSON     sql.NullString
		analysisCachedAt sql.NullInt64
		dominantColors   string
		textElements     string
		durationSeconds  sql.NullFloat64
		hasAudio         sql.NullBool
	)
	if err := row.Scan(
		&entry.Key,
		&entry.OriginalURL,
		&entry.StoragePath,
		&kind,
		&entry.ContentType,
		&entry.SizeBytes,
		&createdAt,
		&lastAccessedAt,
		&entry.BrandName,
		&entry.AdID,
		&analysisJSON,
		&analysisCachedAt,
		&dominantColors,
		&entry.HasPeople,
		&textElements,
		&durationSeconds,
		&hasAudio,
	); err != nil {
		return storage.Entry{}, err
	}

	entry.Kind = mediacache.Kind(kind)
	entry.CreatedAt = fromMillis(createdAt)
	entry.LastAccessedAt = fromMillis(lastAccessedAt)
	entry.DominantColors = splitList(dominantColors, colorSeparator)
	entry.TextElements = splitList(textElements, textSeparator)
	if analysisCachedAt.Valid {
		value := fromMillis(analysisCachedAt.Int64)
		entry.AnalysisCachedAt = &value
	}
	if durationSeconds.Valid {
		value := durationSeconds.Float64
		entry.DurationSeconds = &value
	}
	if hasAudio.Valid {
		value := hasAudio.Bool
		entry.HasAudio = &value
	}
	if analysisJSON.Valid && strings.TrimSpace(analysisJSON.String) != "" {
		payload, err := analysis.Decode([]byte(analysisJSON.String))
		if err != nil {
			// A corrupt payload degrades to "no analysis"; the derived
			// columns already hold whatever was extracted at attach time.
			log.Printf("media cache: corrupt analysis payload for key %s: %v", entry.Key, err)
		} else {
			entry.Analysis = payload
		}
	}
	return entry, nil
}

func encodeAnalysis(payload *analysis.Payload) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal analysis payload: %w", err)
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func validateEntry(entry storage.Entry) error {
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(entry.OriginalURL) == "" {
		return fmt.Errorf("%w: original url is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(entry.StoragePath) == "" {
		return fmt.Errorf("%w: storage path is required", storage.ErrInvalidInput)
	}
	if !entry.Kind.Valid() {
		return fmt.Errorf("%w: media kind %q is not storable", storage.ErrInvalidInput, entry.Kind)
	}
	return nil
}

var _ storage.MetadataStore = (*Store)(nil)
