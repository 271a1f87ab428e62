package fanarttv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tvResponseJSON = `{
  "name": "Show",
  "tvposter": [{"id": "1", "url": "https://assets.test/p1.jpg", "lang": "de", "likes": "9"}],
  "showbackground": [{"id": "2", "url": "https://assets.test/b1.jpg", "lang": "", "likes": "1"}],
  "tvbanner": [
    {"id": "3", "url": "https://assets.test/banner-low.jpg", "lang": "en", "likes": "2"},
    {"id": "4", "url": "https://assets.test/banner-high.jpg", "lang": "en", "likes": "7"}
  ],
  "seasonposter": [
    {"id": "5", "url": "https://assets.test/s1.jpg", "lang": "en", "likes": "3", "season": "1"},
    {"id": "6", "url": "https://assets.test/s2.jpg", "lang": "en", "likes": "4", "season": "2"}
  ]
}`

func newTestProvider(t *testing.T) (*Provider, *string) {
	var lastPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		if r.URL.Query().Get("api_key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/tv/81189":
			w.Write([]byte(tvResponseJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return New(Config{APIKey: "secret", BaseURL: server.URL}, server.Client(), hclog.NewNullLogger()), &lastPath
}

func TestProvider_SeriesBannersByLikes(t *testing.T) {
	p, path := newTestProvider(t)
	owner := &types.OwnerRecord{Kind: types.OwnerSeries, ExternalIDs: map[string]string{"tvdb": "81189"}}

	banners, err := p.Banners(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "/tv/81189", *path)
	require.Len(t, banners, 2)
	assert.Equal(t, "https://assets.test/banner-high.jpg", banners[0].URL)
	assert.Equal(t, 7, banners[0].Rating)
	assert.Equal(t, "4", banners[0].Hash)
	assert.Equal(t, Name, banners[0].Source)
}

func TestProvider_SeasonPostersFiltered(t *testing.T) {
	p, _ := newTestProvider(t)
	owner := &types.OwnerRecord{Kind: types.OwnerSeason, Season: 2, ExternalIDs: map[string]string{"tvdb": "81189"}}

	posters, err := p.Posters(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, posters, 1)
	assert.Equal(t, "https://assets.test/s2.jpg", posters[0].URL)
}

func TestProvider_MissingIDsAndUnknownTitles(t *testing.T) {
	p, _ := newTestProvider(t)

	candidates, err := p.Posters(context.Background(), &types.OwnerRecord{Kind: types.OwnerMovie})
	assert.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = p.Fanarts(context.Background(), &types.OwnerRecord{Kind: types.OwnerMovie, ExternalIDs: map[string]string{"tmdb": "1"}})
	assert.NoError(t, err)
	assert.Empty(t, candidates)

	assert.True(t, p.Supports(types.OwnerSeason))
	assert.False(t, p.Supports(types.OwnerPerson))
}

func TestProvider_AuthFailureIsAnError(t *testing.T) {
	p, _ := newTestProvider(t)
	p.config.APIKey = "wrong"

	_, err := p.Fanarts(context.Background(), &types.OwnerRecord{Kind: types.OwnerSeries, ExternalIDs: map[string]string{"tvdb": "81189"}})
	assert.Error(t, err)
}
