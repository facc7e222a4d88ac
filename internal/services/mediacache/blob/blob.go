// Package blob persists raw media bytes under kind-specific directories.
//
// Files are named <cache key><extension>, where the extension is derived from
// the content type via a fixed table. The store never reads its own metadata;
// reconciliation against the metadata rows is the cache service's job.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adscope/adscope/internal/services/mediacache"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"video/x-msvideo": ".avi",
	"video/3gpp":      ".3gp",
}

const (
	defaultImageExtension = ".jpg"
	defaultVideoExtension = ".mp4"
)

// Store writes media files under a root cache directory.
type Store struct {
	imagesDir string
	videosDir string
}

// New returns a blob store rooted at dir. Directories are created lazily on
// the first write, not here, so constructing a store is side-effect free.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	clean := filepath.Clean(dir)
	return &Store{
		imagesDir: filepath.Join(clean, "images"),
		videosDir: filepath.Join(clean, "videos"),
	}, nil
}

// Path returns the file path bytes for the given key, kind and content type
// would be written to, without touching the filesystem.
func (s *Store) Path(key string, kind mediacache.Kind, contentType string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("blob store is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("cache key is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	switch kind {
	case mediacache.KindVideo:
		ext, ok := videoExtensions[contentType]
		if !ok {
			ext = defaultVideoExtension
		}
		return filepath.Join(s.videosDir, key+ext), nil
	case mediacache.KindImage:
		ext, ok := imageExtensions[contentType]
		if !ok {
			ext = defaultImageExtension
		}
		return filepath.Join(s.imagesDir, key+ext), nil
	default:
		return "", fmt.Errorf("media kind %q is not storable", kind)
	}
}

// Write stores data for the given key and returns the file path. An existing
// file at the same path is overwritten; the parent directory is created on
// first use. Bytes land in a temp file that is renamed into place, so a
// concurrent reader never observes a partially written blob.
func (s *Store) Write(key string, kind mediacache.Kind, contentType string, data []byte) (string, error) {
	path, err := s.Path(key, kind, contentType)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return "", fmt.Errorf("create temp media file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close media file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("set media file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publish media file: %w", err)
	}
	return path, nil
}

// Read returns the bytes previously written to path.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	return data, nil
}

// Exists reports whether a regular file is present at path.
func (s *Store) Exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the file at path. A missing file is not an error; eviction
// and reconciliation both tolerate blobs that are already gone.
func (s *Store) Delete(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete media file: %w", err)
	}
	return nil
}
