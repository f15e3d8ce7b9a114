package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hangleang/freescrow/arbitrator"
	"github.com/hangleang/freescrow/auth"
	"github.com/hangleang/freescrow/config"
	"github.com/hangleang/freescrow/db"
	"github.com/hangleang/freescrow/ledger"
	"github.com/hangleang/freescrow/registry"
	"github.com/hangleang/freescrow/sweeper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("validate config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)
	accounts := ledger.NewRepository(pool)
	escrowRepo := registry.NewRepository(pool)
	disputeRepo := arbitrator.NewRepository(pool)

	registryService := registry.NewService(pool, escrowRepo, accounts, disputeRepo, cfg.Arbitration.Fee, cfg.Arbitration.Account)
	arbService := arbitrator.NewService(disputeRepo, cfg.Arbitration.Fee, cfg.Arbitration.Account)
	arbService.SetRuler(registryService)

	server := newServer(authService, registryService, escrowRepo, arbService, disputeRepo, accounts, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sweep := sweeper.New(registryService, escrowRepo, logger)
	if err := sweep.Register(cfg.Sweeper.Cron); err != nil {
		logger.Fatal("register sweeper", zap.Error(err))
	}

	dispatcher := registry.NewOutboxDispatcher(pool, logger, time.Duration(cfg.Outbox.Interval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sweep.Start()
		<-gctx.Done()
		sweep.Stop()
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
