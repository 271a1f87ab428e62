package artworkmodule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
	"github.com/mantonx/viewra-artwork/internal/database"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/pipeline"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

type testServer struct {
	module *Module
	router *gin.Engine
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	gin.SetMode(gin.TestMode)

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.DataDir = dataDir
	cfg.Database.DatabasePath = filepath.Join(dataDir, "artwork.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Artwork.CacheDir = filepath.Join(dataDir, "cache")
	cfg.Artwork.Workers = 2
	cfg.Artwork.SweepSchedule = "@every 1h"
	cfg.Artwork.Guard.MinAvailableMB = 0
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := database.Open(cfg.Database, hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	registry := modulemanager.NewRegistry(hclog.NewNullLogger())
	m := NewModule(cfg, hclog.NewNullLogger())
	registry.Register(m)
	require.NoError(t, registry.LoadAll(db))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, registry.Shutdown(ctx))
	})

	router := gin.New()
	registry.RegisterRoutes(router)
	return &testServer{module: m, router: router}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) upload(t *testing.T, fields map[string]string, filename string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/artwork/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func (s *testServer) waitForStatus(t *testing.T, artworkID int64, want types.Status) pipeline.View {
	var view pipeline.View
	require.Eventually(t, func() bool {
		w := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/artwork/%d", artworkID), nil))
		if w.Code != http.StatusOK {
			return false
		}
		view = pipeline.View{}
		if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
			return false
		}
		return view.Artwork.Status == want && len(view.Generated) > 0
	}, 10*time.Second, 20*time.Millisecond)
	return view
}

func TestModule_UploadThenServeDerivative(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, map[string]string{"kind": "poster", "owner_kind": "movie", "owner_id": "5", "identifier": "tt0005"}, "cover.png", pngBytes(t, 600, 900))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var located types.LocatedArtwork
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &located))
	assert.Equal(t, types.SourceUpload, located.Source)
	assert.True(t, located.RequiresUpload)

	view := s.waitForStatus(t, located.ArtworkID, types.StatusDone)
	require.NotNil(t, view.Active)
	assert.Equal(t, located.ID, view.Active.ID)

	w = s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/artwork/located/%d/image", located.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 600)

	w = s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/artwork/located/%d/image?profile=huge", located.ID), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModule_LocalArtworkThroughQueue(t *testing.T) {
	s := newTestServer(t)

	mediaDir := t.TempDir()
	mediaPath := filepath.Join(mediaDir, "Heat (1995).mkv")
	require.NoError(t, os.WriteFile(mediaPath, []byte("not really a movie"), 0o644))
	var poster bytes.Buffer
	require.NoError(t, jpeg.Encode(&poster, testImage(400, 600), nil))
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "poster.jpg"), poster.Bytes(), 0o644))

	w := s.json(http.MethodPut, "/api/artwork/owners", types.OwnerRecord{Kind: types.OwnerMovie, OwnerID: 9, Title: "Heat", MediaPath: mediaPath})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.json(http.MethodPost, "/api/artwork", map[string]interface{}{"kind": "poster", "owner_kind": "movie", "owner_id": 9})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var art types.Artwork
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &art))

	view := s.waitForStatus(t, art.ID, types.StatusDone)
	assert.Equal(t, "local", view.Active.Source)
	assert.Equal(t, 400, view.Active.Width)

	w = s.do(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/artwork/%d/process", art.ID), nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	health := s.module.HealthCheck(context.Background())
	assert.Equal(t, modulemanager.HealthStateHealthy, health.Status)
}

func TestModule_RequestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"unknown artwork", httptest.NewRequest(http.MethodGet, "/api/artwork/999", nil), http.StatusNotFound},
		{"bad id", httptest.NewRequest(http.MethodPost, "/api/artwork/abc/process", nil), http.StatusBadRequest},
		{"requeue unknown", httptest.NewRequest(http.MethodPost, "/api/artwork/999/process", nil), http.StatusNotFound},
		{"unknown located", httptest.NewRequest(http.MethodGet, "/api/artwork/located/999/image", nil), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(tt.req).Code)
		})
	}

	w := s.upload(t, map[string]string{"kind": "poster", "owner_kind": "movie", "owner_id": "5"}, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = s.upload(t, map[string]string{"kind": "poster", "owner_kind": "movie", "owner_id": "x"}, "cover.png", pngBytes(t, 10, 10))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/artwork", map[string]interface{}{"kind": "sticker", "owner_kind": "movie", "owner_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPut, "/api/artwork/owners", map[string]interface{}{"kind": "album", "owner_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModule_OversizedUpload(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 64 << 10
	})
	fields := map[string]string{"kind": "poster", "owner_kind": "movie", "owner_id": "5"}

	w := s.upload(t, fields, "cover.png", bytes.Repeat([]byte{0x89}, 100<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	// a body without a known length is cut off by the reader instead
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "cover.png")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0x89}, 100<<10))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/artwork/upload", io.NopCloser(&body))
	req.ContentLength = -1
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = s.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	w = s.upload(t, fields, "cover.png", pngBytes(t, 20, 30))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("artwork 1: %w", aErrors.ErrNotFound), http.StatusNotFound},
		{aErrors.Validation("upload", aErrors.ErrInvalidInput), http.StatusBadRequest},
		{aErrors.Validation("upload", aErrors.ErrUnsupportedType), http.StatusUnsupportedMediaType},
		{aErrors.Missing("derivative", aErrors.ErrContentNotFound), http.StatusNotFound},
		{aErrors.Corrupt("decode", aErrors.ErrCorruptImage), http.StatusUnprocessableEntity},
		{aErrors.Resource("decode", aErrors.ErrResourceExhausted), http.StatusServiceUnavailable},
		{aErrors.Transient("fetch", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestProfilesFromConfig(t *testing.T) {
	profiles, err := profilesFromConfig([]config.ProfileConfig{
		{Name: "thumb", Kind: "still", Width: 160, Height: 90, Scaling: "stretch", AppliesTo: []string{"episode"}},
		{Name: "round", Kind: "photo", Width: 100, Height: 100, RoundedCorners: true, CornerQuality: 2},
	})
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, types.KindVideoImage, profiles[0].Kind)
	assert.Equal(t, types.ScaleStretch, profiles[0].Scaling)
	assert.True(t, profiles[0].AppliesTo.Has(types.OwnerEpisode))
	assert.False(t, profiles[0].AppliesTo.Has(types.OwnerMovie))
	assert.Equal(t, 1.0, profiles[0].CornerQuality)

	assert.True(t, profiles[1].AppliesTo.Has(types.OwnerPerson))
	assert.True(t, profiles[1].AppliesTo.Has(types.OwnerMovie))
	assert.Equal(t, types.ScaleFit, profiles[1].Scaling)

	_, err = profilesFromConfig([]config.ProfileConfig{{Name: "x", Kind: "sticker", Width: 1, Height: 1}})
	assert.Error(t, err)
	_, err = profilesFromConfig([]config.ProfileConfig{{Name: "x", Kind: "poster", Width: 1, Height: 1, AppliesTo: []string{"album"}}})
	assert.Error(t, err)
}
