package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/amqp"
	"kakeibo/internal/backend"
	"kakeibo/internal/cli"
	"kakeibo/internal/config"
	"kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/sheets"
	gsheet "kakeibo/internal/sheets/google"
	sheetmem "kakeibo/internal/sheets/memory"
	"kakeibo/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker, (*config.Config).ValidateWorker)
	logger.Info("Starting kakeibo-worker", "db_path", cfg.SQLiteDBPath)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to open expense store", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close expense store", log.FieldError, err)
		}
	}()

	source, ok := result.Repo.(worker.Source)
	if !ok {
		logger.Error("Expense store does not track mirror progress", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	mirror, err := openMirror(ctx, cfg, logger.WithComponent(log.ComponentSheets))
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}

	rec := metrics.New()
	handler := worker.NewHandler(source, mirror, rec, logger.WithComponent(log.ComponentWorker))
	reconciler := worker.NewReconciler(source, mirror, worker.ReconcilerConfig{
		Interval:  cfg.SyncInterval,
		BatchSize: cfg.SyncBatchSize,
	}, rec, logger.WithComponent(log.ComponentWorker))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(gctx) })

	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		g.Go(func() error { return client.Consume(gctx, handler.Handle) })
	} else {
		logger.Warn("AMQP_URL not set, relying on periodic reconciliation only")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

// openMirror returns the spreadsheet client, or an in-memory mirror when no
// spreadsheet is configured.
func openMirror(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.Mirror, error) {
	if !cfg.SheetsEnabled() {
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, mirroring into memory")
		return sheetmem.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:    cfg.GoogleSpreadsheetID,
		ExpensesSheet:    cfg.GoogleSheetName,
		SettlementsSheet: cfg.GoogleSettlementsSheet,
		CredentialsJSON:  cfg.GoogleServiceAccountJSON,
		CredentialsFile:  cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
