package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/botdeployer/deployer/internal/api"
	"github.com/botdeployer/deployer/internal/bots"
	"github.com/botdeployer/deployer/internal/config"
	"github.com/botdeployer/deployer/internal/db"
	"github.com/botdeployer/deployer/internal/deploy"
	"github.com/botdeployer/deployer/internal/lifecycle"
	"github.com/botdeployer/deployer/internal/logging"
	"github.com/botdeployer/deployer/internal/metrics"
	"github.com/botdeployer/deployer/internal/ratelimit"
	"github.com/botdeployer/deployer/internal/ws"
)

func main() {
	port := flag.Int("port", 0, "HTTP port (overrides HTTP_PORT)")
	envFile := flag.String("env", "", "Load environment variables from this file first")
	flag.Parse()

	if *port != 0 {
		os.Setenv("HTTP_PORT", strconv.Itoa(*port))
	}
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("deployer", cfg.LogLevel, cfg.Debug)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("deployer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting deployer", "node_id", cfg.NodeID, "port", cfg.HTTPPort, "base_url", cfg.BaseURL)

	registry, err := bots.Load(cfg.BotsFile)
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}

	hub := ws.NewHub(logger)
	m := metrics.New(prometheus.NewRegistry())

	store, closeStore, err := openStore(cfg, logger, hub)
	if err != nil {
		return err
	}
	defer closeStore()

	driverOpts, err := gateOptions(cfg, registry, logger)
	if err != nil {
		return err
	}
	driverOpts = append(driverOpts,
		lifecycle.WithLogger(logger),
		lifecycle.WithObserver(m),
		lifecycle.WithDelayScale(cfg.StageDelayScale),
	)
	driver, err := lifecycle.NewDriver(store, driverOpts...)
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}

	limiter := openLimiter(cfg, logger)
	defer limiter.Close()

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Bots:     registry,
		Store:    store,
		Launcher: driver,
		Streams:  ws.NewServer(hub, store, logger),
		Metrics:  m,
		Limiter:  limiter,
	})

	// no WriteTimeout: websocket log streams stay open for the whole deployment
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := driver.Shutdown(ctx); err != nil {
		logger.Error("driver shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore picks badger when DATA_DIR is set and in-memory otherwise.
func openStore(cfg *config.Config, logger *slog.Logger, hub *ws.Hub) (deploy.DeployStore, func(), error) {
	opts := []deploy.Option{
		deploy.WithListener(hub.Publish),
		deploy.WithLogger(logger),
	}
	if cfg.DataDir == "" {
		logger.Info("using in-memory deployment store")
		return deploy.NewStore(opts...), func() {}, nil
	}

	dbStore, err := db.NewStore(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open data dir: %w", err)
	}
	store := deploy.NewPersistentStore(dbStore, opts...)
	n, err := store.Recover()
	if err != nil {
		dbStore.Close()
		return nil, nil, fmt.Errorf("recover deployments: %w", err)
	}
	logger.Info("using persistent deployment store", "data_dir", cfg.DataDir, "interrupted", n)

	return store, func() {
		if err := dbStore.Close(); err != nil {
			logger.Error("close data dir", "error", err)
		}
	}, nil
}

func openLimiter(cfg *config.Config, logger *slog.Logger) ratelimit.Limiter {
	if cfg.RedisAddr != "" {
		rl, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err == nil {
			logger.Info("using redis rate limiter", "addr", cfg.RedisAddr)
			return rl
		}
		logger.Warn("redis unavailable, falling back to in-memory rate limiter", "error", err)
	}
	return ratelimit.NewMemoryLimiter()
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Bot deployer - simulated WhatsApp bot deployments\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                      # listen on HTTP_PORT (default 8000)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -port 9000 -env .env  # load .env, listen on 9000\n", os.Args[0])
	}
}
