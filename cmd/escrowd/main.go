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

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"shortlet-escrow-backend/config"
	"shortlet-escrow-backend/internal/api"
	"shortlet-escrow-backend/internal/db"
	"shortlet-escrow-backend/internal/dedupe"
	"shortlet-escrow-backend/internal/dispute"
	"shortlet-escrow-backend/internal/escrow"
	"shortlet-escrow-backend/internal/gateway"
	"shortlet-escrow-backend/internal/joblock"
	"shortlet-escrow-backend/internal/jobs"
	"shortlet-escrow-backend/internal/lifecycle"
	"shortlet-escrow-backend/internal/notification"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	notifier := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, logger)
	notifier.Start(ctx)

	ledger := escrow.NewLedger(gormDB)
	claims := dedupe.NewGuard(gormDB)
	locks := joblock.NewCoordinator(gormDB)
	disputes := dispute.NewGuard(gormDB)
	paymentGateway := gateway.NewStripeGateway(cfg.Gateway.StripeAPIKey)

	lifecycleSvc := lifecycle.NewService(gormDB, ledger, disputes, claims, paymentGateway, notifier, cfg.Lifecycle, logger)

	if cfg.Jobs.Enabled {
		deps := jobs.Deps{
			DB:        gormDB,
			Locks:     locks,
			Claims:    claims,
			Disputes:  disputes,
			Lifecycle: lifecycleSvc,
			Notifier:  notifier,
			Cfg:       cfg.Jobs,
			Logger:    logger,
		}
		for _, job := range jobs.All(deps) {
			go jobs.NewRunner(job, cfg.Jobs.Interval, logger).Run(ctx)
		}
		logger.Info("automation jobs started", zap.Duration("interval", cfg.Jobs.Interval))
	} else {
		logger.Warn("automation jobs are disabled")
	}

	handler := api.NewHandler(lifecycleSvc, ledger, disputes, claims, logger)
	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
