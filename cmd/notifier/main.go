package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/withdrawal-service/internal/config"
	"github.com/sakashimaa/withdrawal-service/internal/notifier"
	"github.com/sakashimaa/withdrawal-service/pkg/db"
	"github.com/sakashimaa/withdrawal-service/pkg/kafka"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"github.com/sakashimaa/withdrawal-service/pkg/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	tp, err := telemetry.InitTracer(ctx, "withdrawal-notifier", cfg.Tracing.Endpoint, cfg.Env)
	if err != nil {
		log.Fatalf("error init tracer: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres.URL, db.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("error creating postgres pool: %v", err)
	}

	logging.Info(ctx, logger, "Notifier started")

	n := notifier.New(pool, logger)

	group := kafka.NewConsumerGroup(
		cfg.Kafka.Brokers,
		"withdrawal-notifier-group",
		[]string{cfg.Kafka.WithdrawalTopic},
		n.HandleMessage,
		logger,
	)

	if err := group.Run(ctx); err != nil {
		log.Fatalf("error running consumer group: %v", err)
	}

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, logger, "Error shutting down telemetry")
	}

	pool.Close()
	logging.Info(shutdownCtx, logger, "Notifier stopped")
}
