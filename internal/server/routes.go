package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
)

// setupHealthRoutes configures health check endpoints
func setupHealthRoutes(api *gin.RouterGroup, registry *modulemanager.ModuleRegistry) {
	api.GET("/health", func(c *gin.Context) {
		modules := registry.Health(c.Request.Context())

		status := http.StatusOK
		overall := modulemanager.HealthStateHealthy
		for _, h := range modules {
			if h.Status == modulemanager.HealthStateUnhealthy {
				status = http.StatusServiceUnavailable
				overall = modulemanager.HealthStateUnhealthy
			}
		}

		c.JSON(status, gin.H{
			"status":  overall,
			"modules": modules,
		})
	})
}
