package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/imagegen-bridge/internal/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the HTTP server wiring.
type Options struct {
	// PublicDir is served under /public; empty disables static hosting.
	PublicDir string
	// ArtifactName is additionally served at the root, e.g. /pic.png.
	ArtifactName string
	// GraphQL is mounted on /graphql when set.
	GraphQL http.Handler
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	// Health + meta
	engine.GET("/healthz", handler.Health)
	engine.GET("/openapi", handler.OpenAPISpec)
	engine.GET("/events", handler.StreamEvents)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Generation
	engine.POST("/generate", handler.Generate)
	engine.GET("/artifact", handler.LatestArtifact)

	if opts.GraphQL != nil {
		engine.Any("/graphql", gin.WrapH(opts.GraphQL))
	}

	if opts.PublicDir != "" {
		engine.Static("/public", opts.PublicDir)
		if opts.ArtifactName != "" {
			engine.StaticFile("/"+opts.ArtifactName, filepath.Join(opts.PublicDir, opts.ArtifactName))
		}
	}

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on addr. Serve failures other than a
// graceful shutdown are delivered on the returned channel.
func (s *Server) Start(addr string) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: /generate waits on the upstream and /events is
		// long-lived.
		IdleTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
