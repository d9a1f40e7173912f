package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"pasanaco/internal/backend"
	"pasanaco/internal/cli"
	"pasanaco/internal/config"
	apphttp "pasanaco/internal/http"
	"pasanaco/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentApp)
	cli.ExitOnError(logger, "Configuration validation failed", cfg.Validate())

	backendCfg, err := backend.FromAppConfig(cfg)
	cli.ExitOnError(logger, "Invalid backend configuration", err)

	res, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	cli.ExitOnError(logger, "Failed to initialize backend", err, "backend", cfg.DataBackend)

	srv := apphttp.NewServer(":"+cfg.Port, res.Service, apphttp.Options{
		JWTSecret:          []byte(cfg.JWTSecret),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SummaryCacheTTL:    cfg.SummaryCacheTTL,
		Logger:             log.Default(log.ComponentHTTP),
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting pasanaco server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	if err := res.Cleanup(); err != nil {
		logger.Error("Backend cleanup failed", "error", err)
	}
	logger.Info("Server stopped gracefully")
}
