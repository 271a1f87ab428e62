package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubModule struct {
	state modulemanager.HealthState
}

func (m *stubModule) ID() string                { return "stub" }
func (m *stubModule) Name() string              { return "Stub" }
func (m *stubModule) Core() bool                { return false }
func (m *stubModule) Migrate(db *gorm.DB) error { return nil }
func (m *stubModule) Init() error               { return nil }

func (m *stubModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/stub", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func (m *stubModule) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	return modulemanager.HealthStatus{Status: m.state}
}

func newRouter(t *testing.T, state modulemanager.HealthState) *gin.Engine {
	gin.SetMode(gin.TestMode)
	registry := modulemanager.NewRegistry(hclog.NewNullLogger())
	registry.Register(&stubModule{state: state})
	require.NoError(t, registry.LoadAll(nil))
	return SetupRouter(registry, hclog.NewNullLogger())
}

func TestSetupRouter_HealthAndModuleRoutes(t *testing.T) {
	r := newRouter(t, modulemanager.HealthStateHealthy)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string                                `json:"status"`
		Modules map[string]modulemanager.HealthStatus `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Contains(t, body.Modules, "stub")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stub", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/stub", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSetupRouter_UnhealthyModule(t *testing.T) {
	r := newRouter(t, modulemanager.HealthStateUnhealthy)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
