package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/cachekey"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// SourceLocal is the source name of images found next to the media.
const SourceLocal = "local"

// artworkExtensions lists the image extensions to check for each artwork name.
var artworkExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// FileFinder looks for artwork files alongside media using the common
// Plex/Jellyfin/Kodi naming conventions.
type FileFinder struct{}

// NewFileFinder creates a file convention finder.
func NewFileFinder() *FileFinder {
	return &FileFinder{}
}

func (f *FileFinder) Name() string { return SourceLocal }

// Find checks the owner's media path for a matching artwork file.
func (f *FileFinder) Find(ctx context.Context, kind types.ArtworkKind, owner *types.OwnerRecord) (types.Candidate, bool, error) {
	if owner == nil || owner.MediaPath == "" {
		return types.Candidate{}, false, nil
	}

	dir, base, err := splitMediaPath(owner.MediaPath)
	if err != nil {
		return types.Candidate{}, false, err
	}

	var path string
	switch owner.Kind {
	case types.OwnerMovie:
		path = findArtworkFile(dir, movieNames(kind, base))
	case types.OwnerEpisode:
		if kind == types.KindVideoImage {
			path = findArtworkFile(dir, []string{base + "-thumb", base})
		}
	case types.OwnerSeries, types.OwnerBoxSet:
		path = findArtworkFile(dir, folderNames(kind))
	case types.OwnerSeason:
		path = findSeasonArtwork(dir, kind, owner.Season)
	case types.OwnerPerson:
		if kind == types.KindPhoto && owner.Title != "" {
			actor := strings.ReplaceAll(owner.Title, " ", "_")
			path = findArtworkFile(filepath.Join(dir, ".actors"), []string{actor})
		}
	}

	if path == "" {
		return types.Candidate{}, false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.Candidate{}, false, nil
	}

	return types.Candidate{
		Source: SourceLocal,
		File:   path,
		Hash:   cachekey.HashString(fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().Unix())),
	}, true, nil
}

// splitMediaPath returns the directory to search and the media base name
// (empty when the media path is itself a directory).
func splitMediaPath(mediaPath string) (string, string, error) {
	info, err := os.Stat(mediaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to stat media path: %w", err)
	}
	if info.IsDir() {
		return mediaPath, "", nil
	}
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	return filepath.Dir(mediaPath), base, nil
}

func movieNames(kind types.ArtworkKind, base string) []string {
	switch kind {
	case types.KindPoster:
		return []string{base + "-poster", "poster", "movie-poster", "folder", "cover"}
	case types.KindFanart:
		return []string{base + "-fanart", "backdrop", "fanart", "background", base + "-backdrop"}
	case types.KindBanner:
		return []string{base + "-banner", "banner"}
	}
	return nil
}

func folderNames(kind types.ArtworkKind) []string {
	switch kind {
	case types.KindPoster:
		return []string{"poster", "show", "folder", "cover"}
	case types.KindFanart:
		return []string{"backdrop", "fanart", "background"}
	case types.KindBanner:
		return []string{"banner"}
	}
	return nil
}

func findSeasonArtwork(showDir string, kind types.ArtworkKind, season int) string {
	prefix := formatSeasonPrefix(season)
	switch kind {
	case types.KindPoster:
		if path := findArtworkFile(showDir, []string{prefix + "-poster", prefix}); path != "" {
			return path
		}
		return findArtworkFile(filepath.Join(showDir, formatSeasonDir(season)), []string{"poster", "folder", "cover"})
	case types.KindFanart:
		return findArtworkFile(showDir, []string{prefix + "-fanart"})
	case types.KindBanner:
		return findArtworkFile(showDir, []string{prefix + "-banner"})
	}
	return ""
}

// findArtworkFile checks a directory for artwork files matching any of the
// given base names with any of the standard image extensions.
func findArtworkFile(dir string, baseNames []string) string {
	if dir == "" {
		return ""
	}
	for _, baseName := range baseNames {
		// names derived from an empty media base name
		if baseName == "" || strings.HasPrefix(baseName, "-") {
			continue
		}
		for _, ext := range artworkExtensions {
			path := filepath.Join(dir, baseName+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// formatSeasonPrefix returns "season01" format for a season number.
func formatSeasonPrefix(season int) string {
	if season == 0 {
		return "season-specials"
	}
	return fmt.Sprintf("season%02d", season)
}

// formatSeasonDir returns "Season 1" format for a season number.
func formatSeasonDir(season int) string {
	if season == 0 {
		return "Specials"
	}
	return fmt.Sprintf("Season %d", season)
}
