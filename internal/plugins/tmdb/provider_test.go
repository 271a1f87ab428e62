package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const movieImages = `{
  "id": 603,
  "backdrops": [{"file_path": "/back.jpg", "width": 1920, "height": 1080, "vote_average": 5.5, "iso_639_1": null}],
  "posters": [
    {"file_path": "/fr.jpg", "width": 1000, "height": 1500, "vote_average": 9.0, "iso_639_1": "fr"},
    {"file_path": "/en-low.jpg", "width": 1000, "height": 1500, "vote_average": 4.0, "iso_639_1": "en"},
    {"file_path": "/en-high.jpg", "width": 2000, "height": 3000, "vote_average": 6.5, "iso_639_1": "en"},
    {"file_path": "", "vote_average": 10}
  ]
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{APIKey: "key", BaseURL: server.URL, ImageBaseURL: "https://img.test/t/p/original"}, server.Client(), hclog.NewNullLogger())
}

func TestProvider_Posters(t *testing.T) {
	var gotPath, gotKey string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(movieImages))
	})

	owner := &types.OwnerRecord{Kind: types.OwnerMovie, OwnerID: 1, ExternalIDs: map[string]string{"tmdb": "603"}}
	candidates, err := p.Posters(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "/movie/603/images", gotPath)
	assert.Equal(t, "key", gotKey)

	require.Len(t, candidates, 3)
	assert.Equal(t, "https://img.test/t/p/original/en-high.jpg", candidates[0].URL)
	assert.Equal(t, 65, candidates[0].Rating)
	assert.Equal(t, 2000, candidates[0].Width)
	assert.Equal(t, "https://img.test/t/p/original/en-low.jpg", candidates[1].URL)
	assert.Equal(t, "fr", candidates[2].Language)
	assert.Equal(t, Name, candidates[0].Source)
}

func TestProvider_EpisodeStillsUseSeriesID(t *testing.T) {
	var gotPath string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"stills": [{"file_path": "/still.jpg", "width": 1280, "height": 720}]}`))
	})

	owner := &types.OwnerRecord{Kind: types.OwnerEpisode, Season: 2, Episode: 5, ExternalIDs: map[string]string{"tmdb": "999", "tmdb_series": "1399"}}
	candidates, err := p.VideoImages(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "/tv/1399/season/2/episode/5/images", gotPath)
	require.Len(t, candidates, 1)

	posters, err := p.Posters(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, posters)
}

func TestProvider_UnknownIDAndErrors(t *testing.T) {
	status := http.StatusNotFound
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	owner := &types.OwnerRecord{Kind: types.OwnerSeries, ExternalIDs: map[string]string{"tmdb": "1"}}

	candidates, err := p.Fanarts(context.Background(), owner)
	assert.NoError(t, err)
	assert.Empty(t, candidates)

	status = http.StatusInternalServerError
	_, err = p.Fanarts(context.Background(), owner)
	assert.Error(t, err)

	// No external id: nothing to look up
	candidates, err = p.Photos(context.Background(), &types.OwnerRecord{Kind: types.OwnerPerson})
	assert.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestProvider_RequestSpacingHonoursContext(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(movieImages))
	}))
	t.Cleanup(server.Close)
	p := New(Config{APIKey: "key", BaseURL: server.URL, RequestDelay: time.Hour}, server.Client(), hclog.NewNullLogger())
	owner := &types.OwnerRecord{Kind: types.OwnerMovie, ExternalIDs: map[string]string{"tmdb": "603"}}

	_, err := p.Posters(context.Background(), owner)
	require.NoError(t, err)

	// The next slot is an hour away; cancellation must cut the wait short.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = p.Posters(ctx, owner)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, hits)
}

func TestIsJWTToken(t *testing.T) {
	assert.False(t, isJWTToken("0123456789abcdef"))
	long := "eyJ"
	for len(long) < 120 {
		long += "abcdefghij"
	}
	assert.True(t, isJWTToken(long))
}
