package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mcoot/provisioner/internal/api"
	"github.com/mcoot/provisioner/internal/factory"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/services/session"
	redisstorage "github.com/mcoot/provisioner/internal/storage/redis"
)

func main() {
	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Build factory config from environment
	cfg := factory.Config{
		Logger:      logger,
		StorageType: os.Getenv("STORAGE_TYPE"),
		Provisioning: session.HTTPConfig{
			BaseURL: os.Getenv("PROVISIONING_URL"),
			APIKey:  os.Getenv("PROVISIONING_API_KEY"),
		},
		Session:  session.DefaultConfig(),
		OAuth:    oauth.DefaultConfig(),
		Registry: registry,
	}
	cfg.Driver.BaseURL = os.Getenv("DRIVER_URL")
	cfg.Driver.APIKey = os.Getenv("DRIVER_API_KEY")
	cfg.InteractiveApproval = envBool(logger, "INTERACTIVE_APPROVAL")

	if v := os.Getenv("OAUTH_AUTHORITY"); v != "" {
		cfg.OAuth.Authority = v
	}
	if v := os.Getenv("OAUTH_SCOPE"); v != "" {
		cfg.OAuth.Scope = v
	}
	if v := os.Getenv("OAUTH_MODE"); v != "" {
		mode, err := oauth.ParseMode(v)
		if err != nil {
			logger.Error("invalid OAUTH_MODE", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cfg.OAuth.Mode = mode
	}
	cfg.Pipeline.MaxQuantity = envInt(logger, "MAX_QUANTITY")

	if cfg.Provisioning.BaseURL == "" || cfg.Driver.BaseURL == "" {
		logger.Error("PROVISIONING_URL and DRIVER_URL are required")
		os.Exit(1)
	}

	// Configure Redis if storage type is redis
	if cfg.StorageType == factory.StorageTypeRedis {
		redisURL := os.Getenv("REDIS_URL")
		if redisURL == "" {
			logger.Error("REDIS_URL required when STORAGE_TYPE=redis")
			os.Exit(1)
		}
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = redisURL
		cfg.RedisConfig = &redisCfg
	}

	// Create application factory
	app, err := factory.New(cfg)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		Storage:     app.Storage,
		StorageType: app.StorageType,
		Clock:       app.Clock,
		Tasks:       app.Tasks,
		Pipeline:    app.Pipeline,
		OAuth:       app.Acquirer.Client(),
		Metrics:     app.Metrics,
	})

	// Create server
	serverConfig := api.DefaultServerConfig()
	if port := envInt(logger, "PORT"); port != 0 {
		serverConfig.Port = port
	}
	server := api.NewServer(router, app.Tasks, serverConfig, logger)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started", slog.String("addr", server.Addr()))

	// Wait for shutdown or error
	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		// Running tasks release their sessions before Shutdown returns
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// envInt reads an optional integer variable, exiting on a malformed value
func envInt(logger *slog.Logger, name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Error("invalid integer in environment", slog.String("name", name), slog.String("value", raw))
		os.Exit(1)
	}
	return v
}

// envBool reads an optional boolean variable, exiting on a malformed value
func envBool(logger *slog.Logger, name string) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Error("invalid boolean in environment", slog.String("name", name), slog.String("value", raw))
		os.Exit(1)
	}
	return v
}
