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

	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/api"
	"github.com/david/volunteer-match/internal/auth"
	"github.com/david/volunteer-match/internal/config"
	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/logger"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/notify"
)

func main() {
	cfg, err := config.Load(config.Discover(""))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.LogJSON, cfg.LogDebug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, lg); err != nil {
		return err
	}

	policy, err := matching.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	store := db.NewStore(pool)
	queue := db.NewQueue(pool)
	engine := matching.NewEngine(store, notify.NewDispatcher(queue, lg), policy, lg.Named("matching"))

	accounts, err := auth.NewService(pool, cfg.JWTSecret, lg.Named("auth"))
	if err != nil {
		return err
	}

	srv, err := api.NewServer(engine, accounts, store, queue, api.Options{
		CORSOrigins: cfg.CORSOrigins,
		AdminSecret: cfg.AdminSecret,
		Logger:      lg.Named("http"),
	})
	if err != nil {
		return err
	}

	workers := notify.NewPool(queue, store, lg.Named("notify"), cfg.Workers, cfg.PollInterval)
	workers.Start()
	defer workers.Stop()

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
