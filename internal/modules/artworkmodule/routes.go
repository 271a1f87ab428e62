package artworkmodule

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/core/pipeline"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// derivativeSource returns a derivative image by located artwork and profile.
type derivativeSource interface {
	Derivative(ctx context.Context, locatedID int64, profileName string) ([]byte, string, error)
}

// ownerStore records what providers need to know about owners.
type ownerStore interface {
	SaveOwner(ctx context.Context, rec *types.OwnerRecord) error
}

// multipartMemory is the part of an upload kept in memory before spilling
// to temporary files.
const multipartMemory = 32 << 20

type handler struct {
	pipeline  *pipeline.Pipeline
	generator derivativeSource
	owners    ownerStore
	maxUpload int64
	logger    hclog.Logger
}

// registerRoutes sets up the artwork control plane.
//
// Endpoints:
//   - PUT /owners - Create or update an owner record
//   - POST / - Create the artwork slot of an owner and queue it
//   - POST /upload - Upload an image for an artwork slot (multipart)
//   - GET /:id - Artwork status, active source and derivatives
//   - POST /:id/process - Queue an artwork for processing
//   - GET /located/:id/image?profile= - Derivative image bytes
func registerRoutes(router *gin.RouterGroup, h *handler) {
	router.PUT("/owners", h.saveOwner)
	router.POST("", h.enqueue)
	router.POST("/upload", h.upload)
	router.GET("/:id", h.describe)
	router.POST("/:id/process", h.process)
	router.GET("/located/:id/image", h.image)
}

type enqueueRequest struct {
	Kind       string `json:"kind" binding:"required"`
	OwnerKind  string `json:"owner_kind" binding:"required"`
	OwnerID    int64  `json:"owner_id" binding:"required"`
	Identifier string `json:"identifier"`
}

// saveOwner handles PUT /api/artwork/owners
func (h *handler) saveOwner(c *gin.Context) {
	var rec types.OwnerRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	if !rec.Kind.Valid() || rec.OwnerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner"})
		return
	}
	rec.ID = 0

	if err := h.owners.SaveOwner(c.Request.Context(), &rec); err != nil {
		h.fail(c, "Failed to save owner", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// enqueue handles POST /api/artwork
func (h *handler) enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	kind, _ := types.ParseArtworkKind(req.Kind)
	owner := types.Owner{Kind: types.OwnerKind(req.OwnerKind), ID: req.OwnerID}

	art, err := h.pipeline.Enqueue(c.Request.Context(), kind, owner, req.Identifier)
	if err != nil {
		h.fail(c, "Failed to queue artwork", err)
		return
	}
	c.JSON(http.StatusAccepted, art)
}

// upload handles POST /api/artwork/upload
func (h *handler) upload(c *gin.Context) {
	if h.maxUpload > 0 {
		if c.Request.ContentLength > h.maxUpload {
			h.fail(c, "Upload too large", &http.MaxBytesError{Limit: h.maxUpload})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	// parse the whole form first so an oversized body is reported as such
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.fail(c, "Upload too large", err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form", "details": err.Error()})
		return
	}

	kind, _ := types.ParseArtworkKind(c.PostForm("kind"))
	ownerID, err := strconv.ParseInt(c.PostForm("owner_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner ID"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file", "details": err.Error()})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file", "details": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file", "details": err.Error()})
		return
	}

	located, err := h.pipeline.Upload(c.Request.Context(), pipeline.UploadRequest{
		Kind:       kind,
		Owner:      types.Owner{Kind: types.OwnerKind(c.PostForm("owner_kind")), ID: ownerID},
		Identifier: c.PostForm("identifier"),
		Filename:   fileHeader.Filename,
		Data:       data,
	})
	if err != nil && located == nil {
		h.fail(c, "Failed to store upload", err)
		return
	}
	if err != nil {
		// stored, but the queue refused it; the sweeper picks it up later
		h.logger.Warn("upload stored but not queued", "located_id", located.ID, "error", err)
	}
	c.JSON(http.StatusCreated, located)
}

// describe handles GET /api/artwork/:id
func (h *handler) describe(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.pipeline.Describe(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to load artwork", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// process handles POST /api/artwork/:id/process
func (h *handler) process(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.pipeline.Requeue(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to queue artwork", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"artwork_id": id, "queued": true})
}

// image handles GET /api/artwork/located/:id/image
func (h *handler) image(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	profileName := c.DefaultQuery("profile", "default")

	data, mimeType, err := h.generator.Derivative(c.Request.Context(), id, profileName)
	if err != nil {
		h.fail(c, "Failed to produce image", err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, mimeType, data)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

func (h *handler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"error":   message,
		"class":   aErrors.ClassOf(err),
		"details": err.Error(),
	})
}

// statusFor maps error classes onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, aErrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, aErrors.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	}

	switch aErrors.ClassOf(err) {
	case aErrors.ClassValidation:
		return http.StatusBadRequest
	case aErrors.ClassMissing:
		return http.StatusNotFound
	case aErrors.ClassQuality, aErrors.ClassCorrupt:
		return http.StatusUnprocessableEntity
	case aErrors.ClassResource:
		return http.StatusServiceUnavailable
	case aErrors.ClassTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
