package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	httpadapter "carrierwave/internal/adapters/http"
	"carrierwave/internal/adapters/memory"
	pg "carrierwave/internal/adapters/postgres"
	"carrierwave/internal/adapters/sqlite"
	"carrierwave/internal/config"
	"carrierwave/internal/logging"
	"carrierwave/internal/ports"
	"carrierwave/internal/services/bounties"
	"carrierwave/internal/workers/mirrorrelay"
)

// ledgerHost is what the server needs from a ledger backend.
type ledgerHost interface {
	ports.LedgerStore
	ports.Accounts
	ports.OutboxRepository
}

// depositsEnabled reports whether the deposit route may be mounted. Deposits
// mint balance, so they are only ever offered on the in-memory ledger.
func depositsEnabled(cfg config.Config) bool {
	return cfg.EnableDevRoutes && cfg.DatabaseURL == ""
}

func main() {
	cfg, cfgErr := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, cfgErr, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, cfgErr error, logger *zap.Logger) error {
	switch {
	case errors.Is(cfgErr, config.ErrNoDatabase):
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	case cfgErr != nil:
		return cfgErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var host ledgerHost
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL, 0, logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if n, err := db.RequeueStale(ctx); err != nil {
			return fmt.Errorf("requeue outbox: %w", err)
		} else if n > 0 {
			logger.Info("requeued stale outbox events", zap.Int64("count", n))
		}
		host = db
		if cfg.EnableDevRoutes {
			logger.Warn("ENABLE_DEV_ROUTES ignored with a Postgres ledger")
		}
	} else {
		host = memory.New()
	}

	mirror, err := sqlite.Open(cfg.MirrorDBPath)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer mirror.Close()

	engine, err := bounties.New(host, bounties.Config{
		PlatformFeeBps: cfg.PlatformFeeBps,
		Treasury:       cfg.Treasury,
		Custody:        cfg.Custody,
		EscrowVault:    cfg.EscrowVault,
		EscrowAdmin:    cfg.EscrowAdmin,
	}, bounties.WithLogger(logger.Named("engine")))
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	srv := httpadapter.New(engine, mirror, host, httpadapter.Options{
		PlatformFeeBps: cfg.PlatformFeeBps,
		DevRoutes:      depositsEnabled(cfg),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger.Named("http"),
	})

	var workers sync.WaitGroup
	if cfg.MirrorWorkers > 0 {
		relay := mirrorrelay.New(host, mirror, cfg.MirrorWorkers, cfg.MirrorPoll, logger.Named("mirror"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			relay.Run(ctx)
		}()
		logger.Info("mirror relay started", zap.Int("workers", cfg.MirrorWorkers))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	httpSrv := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		cancel()
		workers.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	workers.Wait()
	return nil
}
