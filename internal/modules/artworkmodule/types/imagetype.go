package types

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// DefaultImageType is used when no extension can be derived.
const DefaultImageType = "jpg"

// SourceUpload marks located artworks that were uploaded manually.
const SourceUpload = "upload"

var knownImageTypes = map[string]string{
	"jpg":  "jpg",
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
	"bmp":  "bmp",
}

// NormalizeImageType maps an extension onto the canonical image type, or ""
// when the extension is not an image type we handle.
func NormalizeImageType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	return knownImageTypes[ext]
}

// IsImageExtension reports whether a filename has a supported image extension.
func IsImageExtension(filename string) bool {
	return NormalizeImageType(filepath.Ext(filename)) != ""
}

// ImageTypeFromPath derives the image type from a URL or a file path.
func ImageTypeFromPath(rawURL, file string) string {
	if rawURL != "" {
		p := rawURL
		if u, err := url.Parse(rawURL); err == nil {
			p = u.Path
		}
		if t := NormalizeImageType(path.Ext(p)); t != "" {
			return t
		}
	}
	if file != "" {
		if t := NormalizeImageType(filepath.Ext(file)); t != "" {
			return t
		}
	}
	return DefaultImageType
}

// MimeType returns the MIME type for an image type.
func MimeType(imageType string) string {
	switch NormalizeImageType(imageType) {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
