// Package cli provides the initialization shared by cmd/ledgerbook and
// cmd/ledgerbook-worker.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"ledgerbook/internal/config"
	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
	"ledgerbook/internal/services"
	"ledgerbook/internal/storage"
	"ledgerbook/internal/store"
	"ledgerbook/internal/store/memory"
)

// SetupLogger builds the process logger at the given level and installs it
// as the slog default.
func SetupLogger(level string) *log.Logger {
	lvl := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Component: log.ComponentApp,
		Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}),
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is not an
// error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig reads the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenBackend opens the store adapter selected by DATA_BACKEND. Every
// adapter publishes on bus.
func OpenBackend(cfg *config.Config, bus *events.Bus, logger *log.Logger) (store.Backend, error) {
	switch cfg.DataBackend {
	case "memory":
		logger.Info("Using in-memory backend; data is discarded on exit")
		return memory.New(bus), nil
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, bus, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend at %s: %w", cfg.SQLiteDBPath, err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// EngineOptions maps configuration onto the service options.
func EngineOptions(cfg *config.Config, logger *log.Logger) services.Options {
	defaults := services.DefaultDefaults()
	defaults.Currency = cfg.DefaultCurrency
	defaults.LedgerName = cfg.DefaultLedgerName
	return services.Options{
		Logger:         logger,
		Defaults:       defaults,
		StatsCacheSize: cfg.StatsCacheSize,
		StatsCacheTTL:  cfg.StatsCacheTTL,
	}
}

// InstanceID names this process in relayed change messages.
func InstanceID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, host, uuid.NewString()[:8])
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM, after
// cleanup has run. The done channel closes once shutdown has finished or
// timeout has elapsed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
		case <-ctx.Done():
		}

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			cancel()
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
			cancel()
		}
		close(done)
	}()

	return ctx, done
}
