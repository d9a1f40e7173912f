// Package cli provides common initialization shared by the pasanaco binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pasanaco/internal/log"
)

// SetupLogger installs a logger at the given level (debug|info|warn|error)
// and format (text|json) as the process default and returns it under component.
func SetupLogger(level, format, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Format:    format,
		Output:    os.Stdout,
		Component: component,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env, then .env.local overriding it, when present.
func LoadEnvFile() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")
}

// ExitOnError logs msg with err and exits when err is non-nil.
func ExitOnError(logger *log.Logger, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	logger.Error(msg, append([]any{log.FieldError, err}, args...)...)
	os.Exit(1)
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. cleanup
// then runs with a context bounded by timeout, and the returned channel is
// closed once it has returned.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received", "timeout", timeout)

		if cleanup == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		cleanup(shutdownCtx)
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", "elapsed", time.Since(start))
			return
		}
		logger.Info("Shutdown complete", "elapsed", time.Since(start))
	}()

	return ctx, done
}

// WaitForShutdown blocks until the signal arrived and cleanup has returned.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
