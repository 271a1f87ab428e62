// Package server builds the HTTP router of the artwork service.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
)

// SetupRouter configures the router with middleware, health routes and the
// routes of every loaded module.
func SetupRouter(registry *modulemanager.ModuleRegistry, logger hclog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger.Named("http")))

	// CORS middleware for development
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupHealthRoutes(r.Group("/api"), registry)
	registry.RegisterRoutes(r)
	return r
}

func requestLogger(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request failed", args...)
			return
		}
		logger.Debug("request", args...)
	}
}
