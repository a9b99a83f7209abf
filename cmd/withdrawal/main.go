package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/sakashimaa/withdrawal-service/internal/config"
	"github.com/sakashimaa/withdrawal-service/internal/repository"
	"github.com/sakashimaa/withdrawal-service/internal/service"
	transport "github.com/sakashimaa/withdrawal-service/internal/transport/http"
	"github.com/sakashimaa/withdrawal-service/internal/worker"
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

	tp, err := telemetry.InitTracer(ctx, "withdrawal-service", cfg.Tracing.Endpoint, cfg.Env)
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

	poolOpts := db.DefaultPoolOptions()
	poolOpts.MaxConns = cfg.Postgres.MaxConns
	poolOpts.MinConns = cfg.Postgres.MinConns

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres.URL, poolOpts)
	if err != nil {
		log.Fatalf("error creating postgres pool: %v", err)
	}

	logging.Info(ctx, logger, "Withdrawal service started")

	accountRepo := repository.NewAccountRepository(pool, logger)
	outboxRepo := repository.NewOutboxRepository(pool, logger)
	withdrawalService := service.NewWithdrawalService(pool, accountRepo, outboxRepo, logger)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	dispatcher := worker.NewDispatcher(outboxRepo, producer, cfg.Kafka.WithdrawalTopic, cfg.Outbox, logger)
	go dispatcher.Start(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout: cfg.HTTP.ReadTimeout,
	})
	transport.RegisterRoutes(app, transport.NewWithdrawalHandler(withdrawalService, logger))

	go func() {
		if err := app.Listen(cfg.HTTP.Port); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, logger, "Error shutting down http server")
	}

	if err := producer.Close(); err != nil {
		logging.Error(shutdownCtx, logger, "Error closing kafka producer")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, logger, "Error shutting down telemetry")
	}

	pool.Close()
	logging.Info(shutdownCtx, logger, "Withdrawal service stopped")
}
