// Package handlers provides HTTP request handlers for the image generation bridge.
package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/events"
	"github.com/oremus-labs/imagegen-bridge/internal/generation"
	"github.com/oremus-labs/imagegen-bridge/internal/openapi"
	"github.com/oremus-labs/imagegen-bridge/internal/store"
)

type generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Response, error)
}

type artifactLookup interface {
	LatestArtifact(ctx context.Context) (*store.ArtifactRecord, error)
}

type eventSource interface {
	Subscribe(ctx context.Context) (<-chan events.Event, func())
}

// Options configures optional handler dependencies.
type Options struct {
	Artifacts artifactLookup
	Events    eventSource
	Version   string
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	gen       generator
	artifacts artifactLookup
	events    eventSource
	version   string
}

// New creates a new Handler instance.
func New(gen generator, opts Options) *Handler {
	return &Handler{
		gen:       gen,
		artifacts: opts.Artifacts,
		events:    opts.Events,
		version:   opts.Version,
	}
}

type generateRequest struct {
	Text        string `json:"text"`
	Materialize *bool  `json:"materialize,omitempty"`
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

// Generate runs one generation and returns {urls, url}.
func (h *Handler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}

	resp, err := h.gen.Generate(c.Request.Context(), generation.Request{
		Prompt:      req.Text,
		RequestID:   c.GetString("requestID"),
		Materialize: req.Materialize,
	})
	if err != nil {
		if errors.Is(err, bridgeerr.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Image generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"errorType": errorType(err),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// LatestArtifact returns the most recently materialized artifact.
func (h *Handler) LatestArtifact(c *gin.Context) {
	if h.artifacts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact persistence disabled"})
		return
	}
	rec, err := h.artifacts.LatestArtifact(c.Request.Context())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no artifact recorded"})
		return
	}
	if err != nil {
		log.Printf("Failed to load artifact: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load artifact"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StreamEvents relays lifecycle events as server-sent events until the
// client disconnects.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	ch, cancel := h.events.Subscribe(c.Request.Context())
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		evt, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(evt.Type, evt)
		return true
	})
}

// OpenAPISpec serves the API description as JSON.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	doc, err := openapi.JSON()
	if err != nil {
		log.Printf("Failed to render OpenAPI document: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render OpenAPI document"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func errorType(err error) string {
	if kind := bridgeerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "Error"
}
