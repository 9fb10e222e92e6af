// Package httpapi serves a read-only REST API over the persisted datasets
// and watermarks.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vayuaq/vayu/internal/dataset"
	"github.com/vayuaq/vayu/internal/state"
	"github.com/vayuaq/vayu/internal/validate"
)

// Server bundles router and dependencies for the REST API.
type Server struct {
	addr      string
	entities  []int64
	datasets  dataset.Store
	marks     *state.Store
	validator *validate.Validator
	engine    *gin.Engine
}

// New constructs a server with routes and middleware.
func New(addr string, entities []int64, datasets dataset.Store, marks *state.Store, validator *validate.Validator) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	s := &Server{
		addr:      addr,
		entities:  entities,
		datasets:  datasets,
		marks:     marks,
		validator: validator,
		engine:    engine,
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/entities", s.handleListEntities)
		v1.GET("/entities/:id/summary", s.handleEntitySummary)
		v1.GET("/entities/:id/records", s.handleEntityRecords)
		v1.GET("/entities/:id/quality", s.handleEntityQuality)
		v1.GET("/watermarks", s.handleWatermarks)
	}
}
