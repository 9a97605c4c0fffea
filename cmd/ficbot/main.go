// Package main wires together the ficbot metadata service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/ao3"
	"github.com/fandomtools/ficbot/internal/api"
	"github.com/fandomtools/ficbot/internal/browser"
	"github.com/fandomtools/ficbot/internal/config"
	"github.com/fandomtools/ficbot/internal/cookies"
	"github.com/fandomtools/ficbot/internal/ffnet"
	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/logging"
	"github.com/fandomtools/ficbot/internal/metrics"
	queueMemory "github.com/fandomtools/ficbot/internal/queue/memory"
	"github.com/fandomtools/ficbot/internal/ratelimit"
	storeMemory "github.com/fandomtools/ficbot/internal/store/memory"
	storePostgres "github.com/fandomtools/ficbot/internal/store/postgres"
	"github.com/fandomtools/ficbot/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fileStore, err := cookies.NewFileStore(cfg.Scraper.CookiePath, cfg.Archive.Username)
	if err != nil {
		logger.Fatal("cookie store init failed", zap.Error(err))
	}
	creds := cookies.NewMemoryFallback(fileStore, logger.Named("cookies"))

	sessions := browser.NewManager(browser.Config{
		Headless:       cfg.Browser.Headless,
		UserAgent:      cfg.Browser.UserAgent,
		MaxUses:        cfg.Browser.MaxSessionUses,
		MaxOpenTabs:    cfg.Browser.MaxOpenTabs,
		HealthInterval: cfg.HealthInterval(),
	}, logger.Named("browser"))
	defer sessions.Close()

	gate := ratelimit.New(cfg.MinInterval())

	archiveScraper := ao3.New(
		ao3.Config{
			FetchTimeout:   cfg.FetchTimeout(),
			RateLimitPause: time.Duration(cfg.Scraper.RateLimitPauseSec) * time.Second,
		},
		ao3.AuthConfig{
			Username:   cfg.Archive.Username,
			Password:   cfg.Archive.Password,
			UserAgent:  cfg.Browser.UserAgent,
			NavTimeout: cfg.NavTimeout(),
			LoginPolicy: fic.RetryPolicy{
				MaxAttempts: cfg.Scraper.LoginMaxAttempts,
				BaseDelay:   time.Duration(cfg.Scraper.LoginBackoffMs) * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
		},
		gate,
		sessions,
		creds,
		logger.Named("ao3"),
	)
	ffnetScraper := ffnet.New(ffnet.Config{
		UserAgent: cfg.Browser.UserAgent,
	}, logger.Named("ffnet"))

	registry := worker.NewRegistry()
	registry.Register(archiveScraper, "archiveofourown.org")
	registry.Register(ffnetScraper, "fanfiction.net", "m.fanfiction.net")

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanup()

	queue := queueMemory.New(cfg.Worker.QueueDepth)
	clock := worker.SystemClock{}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		w := worker.New(queue, registry, store, clock, worker.Config{
			RetryBrowserErrors: true,
		}, logger.Named("worker").With(zap.Int("index", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	go sessions.Run(ctx)

	apiServer := api.NewServer(store, queue, clock, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	wg.Wait()
	logger.Info("shutdown complete")
}

// buildStore selects the catalog backend. An empty DSN keeps everything
// in memory for local development.
func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (fic.WorkStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory work store")
		return storeMemory.New(), func() {}, nil
	}
	pg, err := storePostgres.New(ctx, storePostgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using postgres work store")
	return pg, pg.Close, nil
}
