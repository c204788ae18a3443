package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/cssprobe/api"
	"github.com/use-agent/cssprobe/api/handler"
	"github.com/use-agent/cssprobe/api/middleware"
	"github.com/use-agent/cssprobe/cache"
	"github.com/use-agent/cssprobe/config"
	"github.com/use-agent/cssprobe/crawl"
	"github.com/use-agent/cssprobe/engine"
	"github.com/use-agent/cssprobe/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	slog.SetDefault(config.NewLogger(cfg.Log, os.Stdout))
	slog.Info("cssprobe starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"concurrency", cfg.Crawl.Concurrency,
		"strictStatus", cfg.Crawl.StrictStatus,
		"fileRoot", cfg.Crawl.FileRoot,
	)

	// ── 3. Initialise fetch engines and crawler ─────────────────────
	// File pages stay off unless a root directory is configured.
	var fileOpts *engine.FileOptions
	if cfg.Crawl.FileRoot != "" {
		fileOpts = &engine.FileOptions{Root: cfg.Crawl.FileRoot, MaxBytes: cfg.Crawl.MaxBodyBytes}
	}
	fetcher := engine.NewDefaultPageFetcher(cfg.Crawl.FetchTimeout, engine.HTTPOptions{
		UserAgent:         cfg.Crawl.UserAgent,
		MaxBodyBytes:      cfg.Crawl.MaxBodyBytes,
		StrictStatus:      cfg.Crawl.StrictStatus,
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Burst:             cfg.Crawl.Burst,
		RespectRobots:     cfg.Crawl.RespectRobots,
	}, fileOpts)
	crawler := crawl.New(fetcher, crawl.WithConcurrency(cfg.Crawl.Concurrency))

	// ── 4. Initialise cache, job store, webhooks, rate limiters ─────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Stop()
	jobs := handler.NewJobStore(cfg.Jobs.TTL)
	defer jobs.Stop()
	limiters := middleware.NewLimiters(cfg.RateLimit)
	defer limiters.Stop()

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Auditor:  crawler,
		Cache:    cc,
		Jobs:     jobs,
		Notifier: webhook.NewNotifier(),
		Limiters: limiters,
	}, cfg, time.Now())

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Sync audits can be long; give them a little longer than a scrape.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("cssprobe stopped")
}
