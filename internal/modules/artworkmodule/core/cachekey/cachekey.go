// Package cachekey derives deterministic cache names and shard directories
// for originals and derivatives.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// OriginalSuffix replaces the profile name for cached originals.
const OriginalSuffix = "original"

var ownerTags = map[types.OwnerKind]string{
	types.OwnerMovie:   "movie",
	types.OwnerEpisode: "episode",
	types.OwnerSeason:  "season",
	types.OwnerSeries:  "series",
	types.OwnerPerson:  "person",
	types.OwnerBoxSet:  "boxset",
}

// OwnerTag returns the tag used for an owner kind in cache names.
func OwnerTag(kind types.OwnerKind) string {
	if tag, ok := ownerTags[kind]; ok {
		return tag
	}
	return "unknown"
}

// BuildCacheName returns the cache filename of the original (profile == nil)
// or of the profile's derivative:
//
//	<owner>.<ownerTag>.<kind>.<hash|locatedID>.<original|profile>.<ext>
func BuildCacheName(art *types.Artwork, located *types.LocatedArtwork, profile *types.ArtworkProfile) string {
	var sb strings.Builder

	sb.WriteString(sanitize(art.Identifier()))
	sb.WriteByte('.')
	sb.WriteString(OwnerTag(art.OwnerKind))
	sb.WriteByte('.')
	sb.WriteString(string(art.Kind))
	sb.WriteByte('.')

	if located.Hash != "" {
		sb.WriteString(sanitize(located.Hash))
	} else {
		sb.WriteString(strconv.FormatInt(located.ID, 10))
	}
	sb.WriteByte('.')

	originalType := located.ImageType
	if originalType == "" {
		originalType = types.ImageTypeFromPath(located.URL, located.File)
	}

	if profile == nil {
		sb.WriteString(OriginalSuffix)
		sb.WriteByte('.')
		sb.WriteString(originalType)
	} else {
		sb.WriteString(sanitize(profile.Name))
		sb.WriteByte('.')
		sb.WriteString(profile.OutputFormat(originalType))
	}

	return sb.String()
}

// ShardDir maps a cache filename onto a two level directory (hh/hh) taken
// from the sha256 of the name.
func ShardDir(name string) string {
	sum := sha256.Sum256([]byte(name))
	h := hex.EncodeToString(sum[:2])
	return filepath.Join(h[:2], h[2:4])
}

// RelativePath joins the shard directory and the filename.
func RelativePath(dir, name string) string {
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// HashString returns a short stable content hash for identifiers such as
// URLs, file paths and uploaded filenames.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
