// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd assembles the gateway from its configuration and runs it.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIRouter/internal/api"
	"github.com/traylinx/switchAIRouter/internal/buildinfo"
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
	"github.com/traylinx/switchAIRouter/internal/tokens"
	"github.com/traylinx/switchAIRouter/internal/usage"
)

const (
	shutdownTimeout = 15 * time.Second
	pruneInterval   = 6 * time.Hour
)

// Gateway is a fully wired server plus the background workers it owns.
type Gateway struct {
	Config   *config.Config
	Server   *api.Server
	Registry *registry.ModelRegistry
	Router   *routing.Router

	sessions *session.Store
	bus      *hooks.EventBus
	hookMgr  *hooks.HookManager
	usage    *usage.Store
	usageSub *hooks.Subscription
	watcher  *routing.FileWatcher
}

// NewRouter builds the model catalog and the router, applying the routing
// override file when one is configured.
func NewRouter(cfg *config.Config) (*registry.ModelRegistry, *routing.Router, error) {
	reg := registry.NewModelRegistry(registry.DefaultModels(), registry.DefaultAliases())
	rcfg := routing.DefaultConfig()
	if cfg.Routing.File != "" {
		loaded, err := routing.LoadConfigFile(cfg.Routing.File)
		if err != nil {
			return nil, nil, err
		}
		rcfg = loaded
	}
	return reg, routing.NewRouter(rcfg, reg, tokens.New(cfg.TokenEstimator)), nil
}

// Build wires every component named by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	reg, router, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}
	errTable, err := dispatch.NewErrorTable(retryRules(cfg.Dispatch.RetryRules))
	if err != nil {
		return nil, fmt.Errorf("retry rules: %w", err)
	}
	g := &Gateway{Config: cfg, Registry: reg, Router: router, bus: hooks.NewEventBus()}
	transport := dispatch.NewHTTPTransport(httpConfig(cfg.Upstream))
	m := metrics.New()
	dispatcher := dispatch.New(transport, reg, errTable, dispatch.NewCooldownTable(cfg.Dispatch.Cooldown()), dispatch.Options{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout(),
		MaxMessages:    cfg.Dispatch.MaxMessages,
	}).WithEvents(g.bus).WithMetrics(m)

	var dd *dedup.Deduplicator
	if cfg.Dedup.Enabled {
		dd = dedup.New(cfg.Dedup.TTL())
	}
	rc := cache.New(cache.Options{
		Enabled:     cfg.ResponseCache.Enabled,
		MaxSize:     cfg.ResponseCache.MaxSize,
		TTL:         cfg.ResponseCache.TTL(),
		MaxItemSize: cfg.ResponseCache.MaxItemBytes,
	})
	g.sessions = session.NewStore(session.Config{
		Enabled: cfg.Session.Enabled,
		Timeout: cfg.Session.Timeout(),
		Derive:  cfg.Session.DeriveFromMessages,
	})

	var balance dispatch.BalanceGate = dispatch.UnlimitedBalance{}
	if cfg.Balance.Mode == config.BalanceLedger {
		balance = dispatch.NewLedgerBalance(usdToMicros(cfg.Balance.InitialUSD), usdToMicros(cfg.Balance.LowUSD))
	}

	if cfg.HooksDir != "" {
		g.hookMgr = hooks.NewHookManager(cfg.HooksDir, g.bus)
		if err = g.hookMgr.LoadHooks(); err != nil {
			log.Warnf("failed to load hooks: %v", err)
		}
		g.hookMgr.SubscribeToAllEvents()
		if err = g.hookMgr.StartWatcher(); err != nil {
			log.Warnf("hooks watcher disabled: %v", err)
		}
	}

	if cfg.Usage.Enabled {
		g.usage, err = usage.Open(ctx, cfg.Usage.Driver, cfg.Usage.DSN)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("usage store: %w", err)
		}
		g.usageSub = g.usage.Subscribe(g.bus)
	}

	if cfg.Routing.File != "" && cfg.Routing.Watch {
		g.watcher, err = routing.WatchFile(cfg.Routing.File, router.SetConfig)
		if err != nil {
			log.Warnf("routing file watcher disabled: %v", err)
		}
	}

	g.Server = api.NewServer(cfg, api.Options{
		Registry:   reg,
		Router:     router,
		Dispatcher: dispatcher,
		Dedup:      dd,
		Cache:      rc,
		Sessions:   g.sessions,
		Balance:    balance,
		Compressor: dispatch.WhitespaceCompressor{},
		Events:     g.bus,
		Metrics:    m,
		Usage:      g.usage,
		Version:    buildinfo.Version,
	})
	return g, nil
}

// Run serves until ctx ends, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	go g.sessions.Run(ctx, session.DefaultCleanupInterval)
	if g.usage != nil && g.Config.Usage.RetentionDays > 0 {
		go g.pruneUsage(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Server.Stop(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errCh
}

func (g *Gateway) pruneUsage(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().AddDate(0, 0, -g.Config.Usage.RetentionDays)
		if n, err := g.usage.Prune(ctx, cutoff); err != nil {
			log.Warnf("usage prune failed: %v", err)
		} else if n > 0 {
			log.Infof("pruned %d usage rows older than %d days", n, g.Config.Usage.RetentionDays)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the background workers and releases the usage store.
func (g *Gateway) Close() {
	if g.watcher != nil {
		g.watcher.Stop()
	}
	if g.hookMgr != nil {
		g.hookMgr.Stop()
	}
	g.bus.Shutdown()
	if g.usageSub != nil {
		g.usageSub.Unsubscribe()
	}
	if g.usage != nil {
		if err := g.usage.Close(); err != nil {
			log.Errorf("close usage store: %v", err)
		}
	}
}

// StartService configures logging, builds the gateway and serves until
// SIGINT or SIGTERM.
func StartService(cfg *config.Config) error {
	logging.SetDebug(cfg.Debug)
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir, cfg.LogMaxSizeMB, cfg.LogMaxBackups); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	if cfg.Upstream.APIKey == "" && cfg.Upstream.OAuth2 == nil {
		log.Warnf("no upstream credentials configured, set %s", config.EnvUpstreamKey)
	}
	log.Infof("switchAI router %s on http://%s (upstream %s)", buildinfo.Version, cfg.Addr(), cfg.Upstream.BaseURL)
	if err = g.Run(ctx); errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func retryRules(rules []config.RetryRule) []dispatch.RetryRule {
	out := make([]dispatch.RetryRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, dispatch.RetryRule{Name: r.Name, Condition: r.Condition, Retry: r.Retry})
	}
	return out
}

func httpConfig(u config.UpstreamConfig) dispatch.HTTPConfig {
	hc := dispatch.HTTPConfig{BaseURL: u.BaseURL, APIKey: u.APIKey, UserAgent: u.UserAgent}
	if u.OAuth2 != nil {
		hc.OAuth2 = &dispatch.OAuth2Config{
			ClientID:     u.OAuth2.ClientID,
			ClientSecret: u.OAuth2.ClientSecret,
			TokenURL:     u.OAuth2.TokenURL,
			Scopes:       u.OAuth2.Scopes,
		}
	}
	return hc
}

func usdToMicros(usd float64) int64 {
	return int64(usd * 1e6)
}
