// Package cli holds the start-up steps shared by cmd/kakeibo and
// cmd/kakeibo-worker.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kakeibo/internal/config"
	"kakeibo/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// makes it the slog default. Unparseable values fall back to info/text;
// config validation reports them.
func SetupLogger(cfg *config.Config, out io.Writer, component string) *log.Logger {
	level, _ := log.ParseLevel(cfg.LogLevel)
	format, _ := log.ParseFormat(cfg.LogFormat)
	logger := log.New(log.Config{
		Level:     level,
		Format:    format,
		Component: component,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and the environment, sets up logging and runs
// validate. It exits the process when validation fails.
func Bootstrap(component string, validate func(*config.Config) error) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, os.Stdout, component)
	if err := validate(cfg); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
