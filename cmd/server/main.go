package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/dispatch"
	httpapi "github.com/example/carpool/internal/http"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/lifecycle"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/registry"
	"github.com/example/carpool/internal/seatboard"
	"github.com/example/carpool/internal/storage"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrate := pflag.Bool("migrate", false, "apply embedded postgres migrations at startup")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *migrate {
		cfg.RunMigrations = true
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	users := registry.New(store)
	ws := dispatch.NewWSRegistry(logger)
	sinks := dispatch.Fanout{ws}

	// With Redis configured the board is maintained by cmd/consumer from the
	// event stream; otherwise an in-process index follows the engine.
	var board seatboard.Board
	if cfg.RedisAddr != "" {
		rb := seatboard.NewRedisBoard(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSeatsKey)
		defer rb.Close()
		board = rb
	} else {
		idx := seatboard.NewIndex(logger)
		sinks = append(sinks, idx)
		board = idx
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer producer.Close()
		sinks = append(sinks, producer)
		logger.Info("publishing lifecycle events", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	engine := lifecycle.New(store, users, lifecycle.WithEventSink(sinks))
	api := httpapi.NewServer(httpapi.Deps{
		Users:     users,
		Rides:     engine,
		Store:     store,
		WSReg:     ws,
		Board:     board,
		PageLimit: cfg.DefaultPageLimit,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("carpool listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		applied, err := pg.Migrate(ctx)
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("migrations applied", "files", applied)
	}
	return pg, nil
}
