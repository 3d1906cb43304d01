package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/backend"
	"kakeibo/internal/cli"
	"kakeibo/internal/config"
	"kakeibo/internal/core"
	apphttp "kakeibo/internal/http"
	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/services"
	"kakeibo/internal/store"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp, (*config.Config).Validate)
	logger.Info("Starting kakeibo", "port", cfg.Port, "backend", cfg.DataBackend)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	rec := metrics.New()
	parties := cfg.Parties()

	// A store that fails to open leaves the API up in degraded mode.
	var (
		writer     store.Writer
		subscriber store.Subscriber
	)
	result, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Expense store unavailable, running degraded", log.FieldError, err)
	} else {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Failed to close expense store", log.FieldError, err)
			}
		}()
		writer, subscriber = result.Live, result.Live
	}
	rec.SetDegraded(writer == nil)

	// The publisher stays a nil interface when AMQP is not configured.
	var publisher services.Publisher
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP, change events disabled", log.FieldError, err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("Change events enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP_URL not set, change events disabled")
	}

	ledger := services.NewLedgerService(writer, publisher, parties, core.DefaultTaxonomy(), rec,
		logger.WithComponent(log.ComponentLedger))
	view := services.NewLedgerView(subscriber, parties, logger.WithComponent(log.ComponentView))
	if err := view.Open(); err != nil && !errors.Is(err, store.ErrUnavailable) {
		logger.Error("Failed to open ledger view", log.FieldError, err)
	}
	defer view.Close()

	srv := apphttp.NewServer(apphttp.DefaultServerConfig(":"+cfg.Port), ledger, view, rec,
		logger.WithComponent(log.ComponentHTTP))
	srv.MaxHeaderBytes = 1 << 16

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("HTTP server listening", "addr", srv.Addr, "degraded", srv.Degraded())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func openBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.BackendResult, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(ctx, bcfg)
}
