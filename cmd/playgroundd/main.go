package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conneradamsmaine/playgroundd/internal/api"
	"github.com/conneradamsmaine/playgroundd/internal/cache"
	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/playset"
	"github.com/conneradamsmaine/playgroundd/internal/ratelimit"
	"github.com/conneradamsmaine/playgroundd/internal/reaper"
	"github.com/conneradamsmaine/playgroundd/internal/session"
	"github.com/conneradamsmaine/playgroundd/internal/store"
	"github.com/conneradamsmaine/playgroundd/internal/ws"
)

const sweepInterval = 15 * time.Second

func main() {
	cfgPath := flag.String("config", "", "path to playgroundd.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.AdminToken == "" {
		logger.Warn("no admin token configured, admin endpoints are open")
	}

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.SeedDefaultPlaysets(); err != nil {
		logger.Error("seed playsets", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory cache and limits", "error", err)
		} else {
			logger.Info("redis connection OK", "addr", cfg.Redis.Addr)
		}
		defer redisClient.Close()
	}

	c := cache.New(redisClient, cfg.Redis.Prefix, logger)
	limiter := ratelimit.New(redisClient, cfg.Redis.Prefix, logger)

	engine, err := buildDriver(ctx, cfg, logger)
	if err != nil {
		logger.Error("container engine", "error", err)
		os.Exit(1)
	}

	registry := playset.NewRegistry(st)
	mgr := session.NewManager(&cfg.Playground, st, registry, engine, c, logger)

	rpr := reaper.New(st, engine, mgr, sweepInterval, logger)
	go rpr.Run(ctx)

	gateway := ws.NewGateway(cfg, mgr, logger)
	go func() {
		if err := gateway.Start(ctx); err != nil {
			logger.Error("websocket gateway", "error", err)
			cancel()
		}
	}()

	srv := api.NewServer(cfg, mgr, registry, st, limiter, c, gateway.ClientURL(), logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if n := mgr.TerminateAll(shutdownCtx, "server-shutdown"); n > 0 {
			logger.Info("terminated live sessions", "count", n)
		}
		gateway.Shutdown(shutdownCtx)
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("listening", "addr", cfg.Listen, "runtime_mode", cfg.Playground.RuntimeMode)
	fmt.Fprintf(os.Stderr, "\n  playgroundd ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func buildDriver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driver.Driver, error) {
	if cfg.Playground.RuntimeMode == "mock" {
		logger.Info("running in mock engine mode")
		return driver.NewMock(), nil
	}

	d, err := driver.NewDocker(cfg.Playground.DockerHost, driver.Options{
		CommandTimeout: time.Duration(cfg.Playground.CommandTimeoutMs) * time.Millisecond,
		MaxOutputBytes: cfg.Playground.MaxOutputBytes,
		Defaults:       cfg.Defaults,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping failed, is the engine running: %w", err)
	}
	logger.Info("docker connection OK")
	return d, nil
}
