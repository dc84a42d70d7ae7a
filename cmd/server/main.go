package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightperks/points-backend/internal/adapter/directory"
	"github.com/brightperks/points-backend/internal/adapter/fx"
	httpadapter "github.com/brightperks/points-backend/internal/adapter/http"
	"github.com/brightperks/points-backend/internal/adapter/repository/memory"
	"github.com/brightperks/points-backend/internal/adapter/repository/postgres"
	"github.com/brightperks/points-backend/internal/config"
	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
	"github.com/brightperks/points-backend/internal/metrics"
	"github.com/brightperks/points-backend/internal/usecase/budget"
	"github.com/brightperks/points-backend/internal/usecase/engine"
	"github.com/brightperks/points-backend/internal/usecase/integrity"
	"github.com/brightperks/points-backend/internal/usecase/preview"
	"github.com/brightperks/points-backend/internal/usecase/registry"
	"github.com/brightperks/points-backend/internal/usecase/seeder"
	"github.com/brightperks/points-backend/internal/usecase/workflow"
)

func main() {
	// 1. Load configuration and the structured logger
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger()

	// 2. Initialize the ledger store and repositories
	var (
		ledgerStore  domain.LedgerStore
		poolRepo     domain.PoolRepository
		transferRepo domain.TransferRepository
		budgetRepo   domain.BudgetRepository
	)
	switch cfg.Store {
	case "memory":
		store := memory.NewStore()
		ledgerStore = store
		poolRepo = store
		transferRepo = memory.NewTransferRepo(store)
		budgetRepo = memory.NewBudgetRepo(store)
		logger.Warn("using in-memory store; all state is lost on restart")
	default:
		db, err := postgres.NewDB(cfg.DBConnStr)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		ledgerStore = postgres.NewLedgerStore(db)
		poolRepo = postgres.NewPoolRepository(db)
		transferRepo = postgres.NewTransferRepository(db)
		budgetRepo = postgres.NewBudgetRepository(db)
	}

	// 3. Initialize the lock manager
	var lockManager lock.Manager
	if cfg.LockBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis at %s: %v", cfg.RedisAddress, err)
		}
		lockManager = lock.NewRedisManager(client)
	} else {
		lockManager = lock.NewMutexManager()
	}

	// 4. Initialize collaborator adapters and metrics
	// TODO: replace the static resolver and rate provider with clients for
	// the directory and FX settings services once their APIs stabilize.
	resolver := directory.NewStaticResolver()
	rates := fx.NewStaticRateProvider()
	m := metrics.New()

	// 5. Seed the platform pool and build the services
	ctx := context.Background()
	if err := seeder.NewSystemSeeder(poolRepo).Seed(ctx); err != nil {
		log.Fatalf("Failed to seed platform pool: %v", err)
	}

	eng := engine.NewEngine(ledgerStore, transferRepo, poolRepo, lockManager, rates, m, logger)
	previewSvc := preview.NewService(poolRepo, resolver)
	workflowSvc := workflow.NewService(eng, poolRepo, budgetRepo, transferRepo, resolver, cfg.FanOutMaxRecipients, logger)
	budgetSvc := budget.NewService(budgetRepo, poolRepo, logger)
	registrySvc := registry.NewService(poolRepo, logger)
	checker := integrity.NewChecker(poolRepo, transferRepo, lockManager, logger)

	// 6. Start the expiry sweeper
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweeper(sweepCtx, budgetSvc, cfg.SweepInterval)

	// 7. Start the HTTP server
	server := httpadapter.NewServer(previewSvc, workflowSvc, budgetSvc, registrySvc, eng, checker, transferRepo, m, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(cfg.APIToken),
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve HTTP: %v", err)
		}
	}()

	waitForShutdown(httpServer, stopSweep)
}

// runSweeper closes expired budgets on a fixed interval until the context is
// canceled.
func runSweeper(ctx context.Context, budgetSvc *budget.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := budgetSvc.SweepExpired(ctx, now); err != nil {
				log.Printf("Budget sweep failed: %v", err)
			}
		}
	}
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(httpServer *http.Server, stopSweep func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal: %v. Shutting down gracefully...", sig)

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("HTTP server stopped")
}
