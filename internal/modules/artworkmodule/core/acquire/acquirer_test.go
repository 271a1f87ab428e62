package acquire

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/storage"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Store(ctx context.Context, kind storage.Kind, relPath string, data []byte) error {
	return m.Called(ctx, kind, relPath, data).Error(0)
}

func (m *mockStore) Get(ctx context.Context, kind storage.Kind, relPath string) ([]byte, error) {
	args := m.Called(ctx, kind, relPath)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, kind storage.Kind, relPath string) error {
	return m.Called(ctx, kind, relPath).Error(0)
}

func (m *mockStore) Exists(ctx context.Context, kind storage.Kind, relPath string) bool {
	return m.Called(ctx, kind, relPath).Bool(0)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Probe(ctx context.Context, rawURL string) (Dimensions, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(Dimensions), args.Error(1)
}

func (m *mockFetcher) Fetch(ctx context.Context, located *types.LocatedArtwork) ([]byte, error) {
	args := m.Called(ctx, located)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type recordingRepo struct {
	updates  int
	statuses []types.Status
}

func (r *recordingRepo) UpdateLocatedArtwork(ctx context.Context, located *types.LocatedArtwork) error {
	r.updates++
	r.statuses = append(r.statuses, located.Status)
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func imageServer(t *testing.T, status int, body []byte) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

var movieArt = &types.Artwork{ID: 3, Kind: types.KindPoster, OwnerKind: types.OwnerMovie, OwnerID: 42, OwnerIdentifier: "tt0113277"}

func newAcquirer(fetcher Fetcher, store storage.ContentStore, repo LocatedUpdater) *Acquirer {
	return NewAcquirer(fetcher, store, repo, 2, hclog.NewNullLogger())
}

func TestAcquire_SkipsCachedOriginal(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 7, Source: "tmdb", URL: "https://x/p.jpg", CacheFilename: "cached.jpg", Status: types.StatusDone}
	acquirer := newAcquirer(fetcher, store, repo)

	for i := 0; i < 2; i++ {
		outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
	}

	fetcher.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, repo.updates)
}

func TestAcquire_StoresOriginalFromURL(t *testing.T) {
	body := pngBytes(t, 300, 200)
	server := imageServer(t, http.StatusOK, body)

	store := new(mockStore)
	store.On("Store", mock.Anything, storage.KindArtwork, mock.AnythingOfType("string"), body).Return(nil).Once()
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 7, Source: "tmdb", URL: server.URL + "/poster", Hash: "abc", Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(server.Client(), DefaultFetchConfig()), store, repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)

	assert.Equal(t, types.StatusDone, located.Status)
	assert.Equal(t, "tt0113277.movie.poster.abc.original.png", located.CacheFilename)
	assert.NotEmpty(t, located.CacheDir)
	assert.Equal(t, 300, located.Width)
	assert.Equal(t, 200, located.Height)
	assert.Equal(t, "png", located.ImageType)
	assert.Equal(t, []types.Status{types.StatusDone}, repo.statuses)
	store.AssertNumberOfCalls(t, "Store", 1)
}

// jpegWithLargeHeader returns a JPEG whose frame header sits behind two
// large APP1 segments, past the default header window.
func jpegWithLargeHeader(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	encoded := buf.Bytes()

	const segment = 40000
	out := append([]byte{}, encoded[:2]...)
	for i := 0; i < 2; i++ {
		out = append(out, 0xFF, 0xE1, byte((segment+2)>>8), byte((segment+2)&0xFF))
		out = append(out, make([]byte, segment)...)
	}
	return append(out, encoded[2:]...)
}

func TestAcquire_HeaderBeyondHeadWindowFallsBackToFullBody(t *testing.T) {
	body := jpegWithLargeHeader(t, 320, 480)
	server := imageServer(t, http.StatusOK, body)
	fetcher := NewHTTPFetcher(server.Client(), DefaultFetchConfig())

	dims, err := fetcher.Probe(context.Background(), server.URL+"/p.jpg")
	require.NoError(t, err)
	assert.False(t, dims.Known())

	store := new(mockStore)
	store.On("Store", mock.Anything, storage.KindArtwork, mock.AnythingOfType("string"), body).Return(nil).Once()
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 12, Source: "tmdb", URL: server.URL + "/p.jpg", Hash: "exif", Status: types.StatusNew}
	outcome, err := newAcquirer(fetcher, store, repo).Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, types.StatusDone, located.Status)
	assert.Equal(t, 320, located.Width)
	assert.Equal(t, 480, located.Height)
	assert.Equal(t, "jpg", located.ImageType)
	store.AssertNumberOfCalls(t, "Store", 1)
}

func TestAcquire_UndecodableImageIsInvalid(t *testing.T) {
	server := imageServer(t, http.StatusOK, []byte("<html>not an image</html>"))
	store := new(mockStore)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 8, Source: "tmdb", URL: server.URL + "/p.jpg", Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(server.Client(), DefaultFetchConfig()), store, repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Equal(t, types.StatusInvalid, located.Status)
	assert.False(t, located.HasCache())
	assert.NotEmpty(t, located.LastError)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcquire_DegenerateImageIsInvalid(t *testing.T) {
	server := imageServer(t, http.StatusOK, pngBytes(t, 1, 1))
	store := new(mockStore)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 9, Source: "tmdb", URL: server.URL + "/p.png", Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(server.Client(), DefaultFetchConfig()), store, repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcquire_TransientFailureLeavesRowUntouched(t *testing.T) {
	server := imageServer(t, http.StatusServiceUnavailable, nil)
	store := new(mockStore)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 10, Source: "tmdb", URL: server.URL + "/p.jpg", Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(server.Client(), DefaultFetchConfig()), store, repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, types.StatusNew, located.Status)
	assert.Zero(t, repo.updates)
}

func TestAcquire_MissingRemoteIsInvalid(t *testing.T) {
	server := imageServer(t, http.StatusNotFound, nil)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 11, Source: "tmdb", URL: server.URL + "/p.jpg", Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(server.Client(), DefaultFetchConfig()), new(mockStore), repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Contains(t, located.LastError, "source no longer available")
}

func TestAcquire_RequiresUploadIsInvalid(t *testing.T) {
	fetcher := new(mockFetcher)
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 12, Source: "fanarttv", URL: "https://x/p.jpg", RequiresUpload: true, Status: types.StatusNew}
	acquirer := newAcquirer(fetcher, new(mockStore), repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	fetcher.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestAcquire_StoreFailureIsError(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Probe", mock.Anything, "https://x/p.png").Return(Dimensions{Width: 100, Height: 150}, nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(pngBytes(t, 100, 150), nil)

	store := new(mockStore)
	store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	repo := &recordingRepo{}

	located := &types.LocatedArtwork{ID: 13, Source: "tmdb", URL: "https://x/p.png", Status: types.StatusNew}
	acquirer := newAcquirer(fetcher, store, repo)

	outcome, err := acquirer.Acquire(context.Background(), movieArt, located)
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, types.StatusError, located.Status)
	assert.False(t, located.HasCache())
	assert.Contains(t, located.LastError, "disk full")
}

func TestAcquire_LocalFileIntoPhotoSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Al_Pacino.jpg")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 80, 120), 0644))

	root := t.TempDir()
	store, err := storage.NewFileStore(root, hclog.NewNullLogger())
	require.NoError(t, err)
	repo := &recordingRepo{}

	art := &types.Artwork{ID: 4, Kind: types.KindPhoto, OwnerKind: types.OwnerPerson, OwnerID: 9}
	located := &types.LocatedArtwork{ID: 14, Source: "local", File: path, Status: types.StatusNew}
	acquirer := newAcquirer(NewHTTPFetcher(nil, DefaultFetchConfig()), store, repo)

	outcome, err := acquirer.Acquire(context.Background(), art, located)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)

	// Content sniffing wins over the misleading extension
	assert.Equal(t, "png", located.ImageType)
	assert.Equal(t, "9.person.photo.14.original.png", located.CacheFilename)
	assert.Equal(t, 80, located.Width)
	assert.True(t, store.Exists(context.Background(), storage.KindPhoto, filepath.Join(located.CacheDir, located.CacheFilename)))
}
