// Package mediacache defines shared types for the ad media cache: the media
// kind taxonomy used by the blob store, the metadata store and the cache
// service façade.
package mediacache

import (
	"fmt"
	"strings"
)

// Kind classifies cached media.
type Kind string

const (
	// KindImage marks still images (ad creatives, thumbnails).
	KindImage Kind = "image"
	// KindVideo marks video creatives.
	KindVideo Kind = "video"
	// KindAny is the zero filter: match every kind.
	KindAny Kind = ""
)

// ParseKind normalises a user-supplied media kind label.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return KindAny, nil
	case "image":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	default:
		return KindAny, fmt.Errorf("media kind %q is not supported", value)
	}
}

// Valid reports whether k is a concrete, storable kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}
