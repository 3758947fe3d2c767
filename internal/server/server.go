// Package server exposes the commerce webhooks and the admin API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zulandar/siteyard/internal/commerce"
	"github.com/zulandar/siteyard/internal/orders"
	"github.com/zulandar/siteyard/internal/reconcile"
	"github.com/zulandar/siteyard/internal/subscriptions"
	"go.uber.org/zap"
)

// Sweeper runs one reconciliation sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (reconcile.PollSummary, error)
}

// Opts holds the collaborators the HTTP handlers call into.
type Opts struct {
	Engine        *reconcile.Engine
	Orders        *orders.Adapter
	Subscriptions *subscriptions.Adapter
	Store         commerce.Store
	Sweeper       Sweeper
	Gatherer      prometheus.Gatherer
	Log           *zap.SugaredLogger
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Orders == nil || opts.Subscriptions == nil {
		return nil, fmt.Errorf("server: order and subscription adapters are required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log))
	registerRoutes(router, &handlers{opts})
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Siteyard listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger logs one line per request at debug level, and at warn
// level for server errors.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			log.Warnw("request failed", fields...)
			return
		}
		log.Debugw("request", fields...)
	}
}
