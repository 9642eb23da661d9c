package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/pluma-erp/pluma-erp/internal/app"
	"github.com/pluma-erp/pluma-erp/internal/batches"
	"github.com/pluma-erp/pluma-erp/internal/distribution"
	"github.com/pluma-erp/pluma-erp/internal/farms"
	"github.com/pluma-erp/pluma-erp/internal/ledger"
	"github.com/pluma-erp/pluma-erp/internal/notify"
	"github.com/pluma-erp/pluma-erp/internal/orders"
	"github.com/pluma-erp/pluma-erp/internal/platform/cache"
	"github.com/pluma-erp/pluma-erp/internal/platform/db"
	"github.com/pluma-erp/pluma-erp/internal/sales"
	"github.com/pluma-erp/pluma-erp/internal/shared"
	"github.com/pluma-erp/pluma-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	validate := validator.New()
	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	dispatcher := notify.NewAsynqDispatcher(asynqClient, logger)

	inventoryCache := farms.NewInventoryCache(redisClient, cfg.InventoryCacheTTL, logger)
	farmsRepo := farms.NewRepository(pool)
	farmsService := farms.NewService(farmsRepo, inventoryCache, logger)
	farmsHandler := farms.NewHandler(logger, farmsService, validate)

	batchesRepo := batches.NewRepository(pool)
	batchesService := batches.NewService(batchesRepo, audit, logger)
	batchesHandler := batches.NewHandler(batchesService, validate)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, audit, idempotency, inventoryCache, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, validate)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, ledgerService, audit, dispatcher, logger)
	ordersHandler := orders.NewHandler(ordersService, validate)

	distributionRepo := distribution.NewRepository(pool)
	distributionService := distribution.NewService(distributionRepo, audit, dispatcher, logger)
	distributionHandler := distribution.NewHandler(distributionService, validate)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, audit, dispatcher, logger)
	salesHandler := sales.NewHandler(salesService, validate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		FarmsHandler:        farmsHandler,
		BatchesHandler:      batchesHandler,
		LedgerHandler:       ledgerHandler,
		OrdersHandler:       ordersHandler,
		DistributionHandler: distributionHandler,
		SalesHandler:        salesHandler,
		JobsHandler:         jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
