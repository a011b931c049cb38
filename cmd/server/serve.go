package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ipguardian/internal/api"
	"ipguardian/internal/bridge"
	"ipguardian/internal/config"
	"ipguardian/internal/database"
	"ipguardian/internal/registry"
	"ipguardian/internal/service"
	"ipguardian/internal/worker"
)

const (
	shutdownTimeout  = 10 * time.Second
	quoteSessions    = 10000
	quoteSessionIdle = 30 * time.Minute
)

func serve(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting IP Guardian service",
		zap.String("env", cfg.Env),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int64("chain_id", cfg.App.ChainID),
		zap.Bool("cross_chain", cfg.Features.CrossChain))

	reg, err := registry.Default()
	if err != nil {
		return fmt.Errorf("failed to load chain registry: %w", err)
	}

	store, err := openStore(ctx.Context, cfg, logger)
	if err != nil {
		return err
	}

	// Initialize services
	payments := service.NewPaymentService(store, reg, logger)
	settlement := service.NewSettlementService(payments, reg, cfg.Bridge, logger)
	quotes := service.NewQuoteService(logger.Named("quotes"))
	tracker := service.NewQuoteTracker(quoteSessions, quoteSessionIdle)

	logger.Info("Services initialized")

	var (
		workerManager *worker.WorkerManager
		receipts      *bridge.ReceiptChecker
	)
	if cfg.Features.CrossChain {
		dln, err := bridge.NewDLNClient(cfg.Bridge.DLNAPIEndpoint, cfg.Bridge.DLNRateLimit, logger)
		if err != nil {
			return multierr.Append(err, store.Close())
		}
		receipts, err = bridge.NewReceiptChecker(cfg.RPCEndpoints, logger)
		if err != nil {
			return multierr.Append(err, store.Close())
		}
		resolver := bridge.NewResolver(dln, receipts, logger)

		workerManager = worker.NewWorkerManager(store, payments, resolver, cfg.Reconcile, logger)
		workerManager.Start()
		logger.Info("Workers started")
	} else {
		logger.Info("Cross-chain payments disabled, reconciler not started")
	}

	apiHandler := api.NewHandler(cfg, reg, quotes, tracker, payments, settlement, logger.Named("api"))
	router := api.SetupRouter(apiHandler, api.RouterOptions{
		CrossChain:     cfg.Features.CrossChain,
		QuoteRateLimit: cfg.Quote.RateLimit,
		QuoteBurst:     cfg.Quote.Burst,
	}, logger.Named("http"))

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			runErr = err
		}
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop workers first so no lookup writes race the store close
	if workerManager != nil {
		runErr = multierr.Append(runErr, workerManager.Shutdown(shutdownTimeout))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("http server shutdown: %w", err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}
	if receipts != nil {
		receipts.Close()
	}
	runErr = multierr.Append(runErr, store.Close())

	if runErr != nil {
		logger.Error("Service stopped with errors", zap.Error(runErr))
		return runErr
	}
	logger.Info("Service stopped successfully")
	return nil
}

func migrate(ctx *cli.Context) error {
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Store.Backend != config.StoreBackendPostgres {
		return fmt.Errorf("migrate requires the postgres store backend (got %q)", cfg.Store.Backend)
	}

	db, err := connectPostgres(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx.Context, db); err != nil {
		return err
	}
	logger.Info("Database migrations applied successfully")
	return nil
}

// openStore selects PostgreSQL when configured and falls back to memory
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.PaymentStore, error) {
	if cfg.Store.Backend != config.StoreBackendPostgres {
		logger.Warn("Using in-memory payment store, payment history will not survive a restart")
		return database.NewMemoryStore(), nil
	}

	db, err := connectPostgres(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected successfully", zap.String("db_host", cfg.Database.Host))

	if err := database.RunMigrations(ctx, db); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	logger.Info("Database migrations applied successfully")

	return db, nil
}

func connectPostgres(cfg *config.Config) (*database.DB, error) {
	return database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
}
