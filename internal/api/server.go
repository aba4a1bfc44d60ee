// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the gateway over HTTP: the OpenAI-compatible chat
// endpoint plus health, cache, model, stats and metrics introspection.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/traylinx/switchAIRouter/internal/cache"
	"github.com/traylinx/switchAIRouter/internal/config"
	"github.com/traylinx/switchAIRouter/internal/dedup"
	"github.com/traylinx/switchAIRouter/internal/dispatch"
	"github.com/traylinx/switchAIRouter/internal/hooks"
	"github.com/traylinx/switchAIRouter/internal/logging"
	"github.com/traylinx/switchAIRouter/internal/metrics"
	"github.com/traylinx/switchAIRouter/internal/registry"
	"github.com/traylinx/switchAIRouter/internal/routing"
	"github.com/traylinx/switchAIRouter/internal/session"
	"github.com/traylinx/switchAIRouter/internal/transcode"
	"github.com/traylinx/switchAIRouter/internal/usage"
)

// Options carries the components a Server is built from. Dispatcher is
// required; every other nil field gets a disabled or default component.
type Options struct {
	Registry   *registry.ModelRegistry
	Router     *routing.Router
	Dispatcher *dispatch.Dispatcher
	// Dedup nil disables request coalescing.
	Dedup      *dedup.Deduplicator
	Cache      *cache.Cache
	Sessions   *session.Store
	Balance    dispatch.BalanceGate
	Compressor dispatch.Compressor
	Events     *hooks.EventBus
	Metrics    *metrics.Metrics
	Usage      *usage.Store
	Version    string
	// Heartbeat overrides the SSE keep-alive interval.
	Heartbeat time.Duration
}

// counters are the in-process totals reported by /stats.
type counters struct {
	requests      atomic.Int64
	cacheHits     atomic.Int64
	dedupHits     atomic.Int64
	fallbacks     atomic.Int64
	failures      atomic.Int64
	freeFallbacks atomic.Int64
}

// Server is the gateway HTTP server.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	srv        *http.Server
	registry   *registry.ModelRegistry
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	dedup      *dedup.Deduplicator
	cache      *cache.Cache
	cacheTTL   time.Duration
	sessions   *session.Store
	balance    dispatch.BalanceGate
	compressor dispatch.Compressor
	events     *hooks.EventBus
	metrics    *metrics.Metrics
	usage      *usage.Store
	version    string
	heartbeat  time.Duration
	started    time.Time
	counters   counters
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, opts Options) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:        cfg,
		registry:   opts.Registry,
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		dedup:      opts.Dedup,
		cache:      opts.Cache,
		cacheTTL:   cfg.ResponseCache.TTL(),
		sessions:   opts.Sessions,
		balance:    opts.Balance,
		compressor: opts.Compressor,
		events:     opts.Events,
		metrics:    opts.Metrics,
		usage:      opts.Usage,
		version:    opts.Version,
		heartbeat:  opts.Heartbeat,
		started:    time.Now(),
	}
	if s.registry == nil {
		s.registry = registry.NewModelRegistry(nil, nil)
	}
	if s.router == nil {
		s.router = routing.NewRouter(routing.DefaultConfig(), s.registry, nil)
	}
	if s.cache == nil {
		s.cache = cache.New(cache.Options{Enabled: false})
	}
	if s.sessions == nil {
		s.sessions = session.NewStore(session.Config{Enabled: false})
	}
	if s.balance == nil {
		s.balance = dispatch.UnlimitedBalance{}
	}
	if s.compressor == nil {
		s.compressor = dispatch.NopCompressor{}
	}
	if s.heartbeat <= 0 {
		s.heartbeat = transcode.HeartbeatInterval
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), s.metricsMiddleware())
	s.engine = engine
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/v1/chat/completions", s.handleChatCompletions)
	s.engine.GET("/v1/models", s.handleModels)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/cache", s.handleCacheStats)
	s.engine.DELETE("/cache", s.requireManagementKey(), s.handleCacheClear)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on the configured address, accepting HTTP/1.1 and
// cleartext HTTP/2. It returns nil after Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           h2c.NewHandler(s.engine, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	log.Infof("API server listening on %s", ln.Addr())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
