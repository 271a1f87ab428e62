package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// SourceEmbedded is the source name of cover art stored inside media files.
const SourceEmbedded = "embedded"

// taggedExtensions are the containers whose tags can carry cover art.
var taggedExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".m4b": true, ".m4v": true,
	".mp4": true, ".flac": true, ".ogg": true,
}

// EmbeddedFinder returns the cover art embedded in the owner's media file as
// a poster candidate.
type EmbeddedFinder struct{}

// NewEmbeddedFinder creates an embedded cover art finder.
func NewEmbeddedFinder() *EmbeddedFinder {
	return &EmbeddedFinder{}
}

func (f *EmbeddedFinder) Name() string { return SourceEmbedded }

// Find reads the media tags and reports a candidate when a picture is present.
func (f *EmbeddedFinder) Find(ctx context.Context, kind types.ArtworkKind, owner *types.OwnerRecord) (types.Candidate, bool, error) {
	if kind != types.KindPoster || owner == nil || owner.MediaPath == "" {
		return types.Candidate{}, false, nil
	}
	if !taggedExtensions[strings.ToLower(filepath.Ext(owner.MediaPath))] {
		return types.Candidate{}, false, nil
	}

	info, err := os.Stat(owner.MediaPath)
	if err != nil || info.IsDir() {
		return types.Candidate{}, false, nil
	}

	data, _, err := ReadEmbeddedPicture(owner.MediaPath)
	if err != nil || len(data) == 0 {
		return types.Candidate{}, false, nil
	}

	return types.Candidate{
		Source: SourceEmbedded,
		File:   owner.MediaPath,
		Hash:   cachekey.HashString(fmt.Sprintf("%s:%d:%d:embedded", owner.MediaPath, info.Size(), info.ModTime().Unix())),
	}, true, nil
}

// ReadEmbeddedPicture extracts the cover picture of a tagged media file and
// returns its bytes and image type.
func ReadEmbeddedPicture(path string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tags: %w", err)
	}

	picture := metadata.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return nil, "", fmt.Errorf("no embedded picture in %s", filepath.Base(path))
	}

	imageType := types.NormalizeImageType(picture.Ext)
	if imageType == "" {
		imageType = types.NormalizeImageType(strings.TrimPrefix(picture.MIMEType, "image/"))
	}
	if imageType == "" {
		imageType = types.DefaultImageType
	}
	return picture.Data, imageType, nil
}
