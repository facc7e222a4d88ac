// Package key derives stable cache keys from media URLs.
package key

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyURL indicates a cache key was requested for a blank URL.
var ErrEmptyURL = errors.New("url is required")

// Identify returns the cache key for a media URL: the MD5 digest of the URL
// bytes rendered as lowercase hex. The key is a pure function of the URL, so
// repeated downloads of the same source collapse onto one cache entry.
func Identify(url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", ErrEmptyURL
	}
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:]), nil
}
