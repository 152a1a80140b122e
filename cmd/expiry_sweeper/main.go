package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/storefront-wallet-ledger/internal/config"
	"github.com/storefront-wallet-ledger/internal/data/postgres"
	"github.com/storefront-wallet-ledger/internal/data/sqlite"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
	"github.com/storefront-wallet-ledger/internal/expiry"
	"github.com/storefront-wallet-ledger/internal/ledger"
	"github.com/storefront-wallet-ledger/internal/logger"
	"github.com/storefront-wallet-ledger/internal/platform/messaging/producers"
	"github.com/storefront-wallet-ledger/internal/platform/persistence"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("expiry_sweeper")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Expiry Sweeper",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"store_driver", cfg.Store.Driver,
	)

	// Open the transaction store for the configured driver
	var (
		store      wallet.Repository
		closeStore func()
	)
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
		if err != nil {
			log.Error("Failed to initialize PostgreSQL", "error", err)
			os.Exit(1)
		}
		store = postgres.NewTransactionRepository(log, postgresDB)
		closeStore = postgresDB.Close
	case config.StoreDriverSQLite:
		sqliteDB, err := persistence.NewSQLiteDB(appCtx, log, &cfg.SQLite)
		if err != nil {
			log.Error("Failed to initialize SQLite", "error", err)
			os.Exit(1)
		}
		store = sqlite.NewTransactionRepository(log, sqliteDB)
		closeStore = func() {
			if err := sqliteDB.Close(); err != nil {
				log.Error("Error closing SQLite store", "error", err)
			}
		}
	default:
		log.Error("Unknown store driver", "driver", cfg.Store.Driver)
		os.Exit(1)
	}

	// Initialize Kafka audit producer
	auditProducer, err := producers.NewAuditEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize audit Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize ledger service with the audit trail attached
	ledgerService := ledger.NewService(log, store, auditProducer, &cfg.Wallet)

	// Initialize expiry engine with its worker pool
	engine, err := expiry.NewEngine(log, ledgerService, store, &cfg.Wallet, &cfg.Sweep)
	if err != nil {
		log.Error("Failed to initialize expiry engine", "error", err)
		os.Exit(1)
	}

	// Create error channel for service errors
	errChan := make(chan error, 1)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Run one sweep immediately, then one per interval
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting sweep loop",
			"interval", cfg.Sweep.Interval.String(),
			"worker_pool_size", cfg.Sweep.WorkerPoolSize,
		)

		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()

		for {
			report, err := engine.Sweep(appCtx, time.Time{})
			if err != nil {
				if appCtx.Err() != nil {
					log.Info("Context canceled, stopping sweep loop")
					return
				}
				errChan <- fmt.Errorf("expiry sweep error: %w", err)
				return
			}
			log.Info("Sweep cycle completed",
				"users_scanned", report.UsersScanned,
				"users_swept", report.UsersSwept,
				"credits_expired", report.CreditsExpired,
				"amount_expired", report.AmountExpired.String(),
				"failures", len(report.Failures),
			)

			select {
			case <-appCtx.Done():
				log.Info("Context canceled, stopping sweep loop")
				return
			case <-ticker.C:
			}
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for the sweep loop to finish
	log.Info("Waiting for sweep loop to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("Sweep loop stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Release the engine's worker pool
	engine.Close()

	// Close audit Kafka producer
	if err = auditProducer.Close(); err != nil {
		log.Error("Error closing audit Kafka producer", "error", err)
	}

	// Close the transaction store
	closeStore()

	// Final status
	if serviceErr != nil {
		log.Error("Expiry Sweeper shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Expiry Sweeper shutdown completed with errors")
	} else {
		log.Info("Expiry Sweeper shutdown completed successfully")
	}
}
