package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"

	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/seatboard"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total lifecycle events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	applyOK = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_apply_total",
		Help: "Total events applied, by target",
	}, []string{"target"})
	applyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_apply_errors_total",
		Help: "Total events that could not be applied after retries, by target",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, applyOK, applyErrors)
}

// Applier projects one lifecycle event somewhere.
type Applier interface {
	Apply(ctx context.Context, ev models.Event) error
}

type target struct {
	name    string
	applier Applier
}

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	metricsAddr := pflag.String("metrics-addr", "", "address to serve prometheus metrics on (overrides METRICS_ADDR)")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	logger := logging.NewLogger(cfg.LogLevel)

	board := seatboard.NewRedisBoard(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSeatsKey)
	targets := []target{{name: "seatboard", applier: board}}
	if cfg.SettlementEnabled() {
		gw := payments.NewStripeClient(cfg.StripeAPIKey)
		holds := payments.NewRedisHolds(board.Client())
		targets = append(targets, target{name: "fares", applier: payments.NewSettler(gw, holds, cfg.FarePerSeatCents, cfg.FareCurrency, logger)})
		logger.Info("fare settlement enabled", "per_seat_cents", cfg.FarePerSeatCents, "currency", cfg.FareCurrency)
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := board.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = board.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		handle(ctx, logger, targets, ev)
	}
}

// handle applies ev to every target. A target that keeps failing is logged
// and skipped; the others still see the event.
func handle(ctx context.Context, logger *slog.Logger, targets []target, ev models.Event) {
	for _, t := range targets {
		if err := applyWithRetry(ctx, t.applier, ev, 3, 200*time.Millisecond); err != nil {
			applyErrors.WithLabelValues(t.name).Inc()
			logger.Error("apply failed", "target", t.name, "event_id", ev.ID, "ride_id", ev.RideID, "error", err)
			continue
		}
		applyOK.WithLabelValues(t.name).Inc()
	}
}

// applyWithRetry retries a failing apply with doubling delay.
func applyWithRetry(ctx context.Context, a Applier, ev models.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = a.Apply(ctx, ev); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
