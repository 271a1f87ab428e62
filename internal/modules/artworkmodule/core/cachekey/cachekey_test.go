package cachekey

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildCacheName(t *testing.T) {
	movie := &types.Artwork{ID: 1, Kind: types.KindPoster, OwnerKind: types.OwnerMovie, OwnerID: 7, OwnerIdentifier: "tt0111161"}
	season := &types.Artwork{ID: 2, Kind: types.KindBanner, OwnerKind: types.OwnerSeason, OwnerID: 12}
	profile := &types.ArtworkProfile{Name: "Default", Kind: types.KindPoster}

	tests := []struct {
		name    string
		art     *types.Artwork
		located *types.LocatedArtwork
		profile *types.ArtworkProfile
		want    string
	}{
		{
			name:    "original with hash",
			art:     movie,
			located: &types.LocatedArtwork{ID: 5, Hash: "abc123", ImageType: "jpg"},
			want:    "tt0111161.movie.poster.abc123.original.jpg",
		},
		{
			name:    "original falls back to located id",
			art:     season,
			located: &types.LocatedArtwork{ID: 9, URL: "https://x/y.png"},
			want:    "12.season.banner.9.original.png",
		},
		{
			name:    "derivative uses profile name",
			art:     movie,
			located: &types.LocatedArtwork{ID: 5, Hash: "abc123", ImageType: "webp"},
			profile: profile,
			want:    "tt0111161.movie.poster.abc123.default.webp",
		},
		{
			name:    "identifier is sanitized",
			art:     &types.Artwork{Kind: types.KindPhoto, OwnerKind: types.OwnerPerson, OwnerIdentifier: "Tom Hanks/1"},
			located: &types.LocatedArtwork{ID: 3, ImageType: "jpg"},
			want:    "tom_hanks_1.person.photo.3.original.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildCacheName(tt.art, tt.located, tt.profile))
		})
	}
}

func TestBuildCacheNameIsDeterministic(t *testing.T) {
	art := &types.Artwork{Kind: types.KindFanart, OwnerKind: types.OwnerSeries, OwnerID: 44}
	located := &types.LocatedArtwork{ID: 8, Hash: "ff00", ImageType: "jpg"}
	profile := &types.ArtworkProfile{Name: "large", Kind: types.KindFanart}

	first := BuildCacheName(art, located, profile)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BuildCacheName(art, located, profile))
	}
	assert.NotEqual(t, first, BuildCacheName(art, located, nil))
}

func TestShardDir(t *testing.T) {
	name := "tt0111161.movie.poster.abc123.original.jpg"
	dir := ShardDir(name)

	assert.Equal(t, dir, ShardDir(name))
	parts := strings.Split(dir, string(filepath.Separator))
	assert.Len(t, parts, 2)
	assert.Len(t, parts[0], 2)
	assert.Len(t, parts[1], 2)
	assert.Equal(t, filepath.Join(dir, name), RelativePath(dir, name))
}

func TestOwnerTag(t *testing.T) {
	assert.Equal(t, "boxset", OwnerTag(types.OwnerBoxSet))
	assert.Equal(t, "episode", OwnerTag(types.OwnerEpisode))
	assert.Equal(t, "unknown", OwnerTag(types.OwnerKind("studio")))
}

func TestHashString(t *testing.T) {
	h := HashString("https://image.tmdb.org/t/p/original/poster.jpg")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashString("https://image.tmdb.org/t/p/original/poster.jpg"))
	assert.NotEqual(t, h, HashString("https://image.tmdb.org/t/p/original/other.jpg"))
}
