package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/withdrawal-service/internal/config"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/internal/repository"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publisher is the slice of the Kafka producer the dispatcher needs.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key string, value []byte) error
}

// Dispatcher drains the outbox: it claims due PENDING entries, publishes
// them and records the result. It runs off the request path; several
// instances may run concurrently because claims are leased.
type Dispatcher struct {
	repo      repository.OutboxRepository
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	tracer    trace.Tracer

	topic       string
	claimedBy   string
	interval    time.Duration
	batchSize   int
	claimLease  time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewDispatcher(
	repo repository.OutboxRepository,
	publisher Publisher,
	topic string,
	cfg config.Outbox,
	logger *zap.Logger,
) *Dispatcher {
	settings := gobreaker.Settings{
		Name:        "WithdrawalEvents",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Dispatcher{
		repo:        repo,
		publisher:   publisher,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		logger:      logger,
		tracer:      otel.Tracer("worker/dispatcher"),
		topic:       topic,
		claimedBy:   uuid.NewString(),
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		claimLease:  cfg.ClaimLease,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	logging.Info(ctx, d.logger, "Starting outbox dispatcher", zap.String("claimed_by", d.claimedBy))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, d.logger, "Outbox dispatcher stopping")

			return
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil {
				logging.Error(ctx, d.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.processBatch")
	defer span.End()

	entries, err := d.repo.ClaimPending(ctx, d.batchSize, d.claimLease, d.claimedBy)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return nil
	}

	logging.Info(ctx, d.logger, "Dispatching outbox entries", zap.Int("count", len(entries)))

	for _, entry := range entries {
		d.dispatch(ctx, entry)
	}

	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, entry domain.OutboxEntry) {
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.publisher.ProduceMessage(ctx, d.topic, transactionKey(entry.TransactionID), entry.Payload)
	})
	if err == nil {
		if dbErr := d.repo.MarkSent(ctx, entry.ID); dbErr != nil {
			// The event may be redelivered after the lease expires;
			// consumers dedupe on the transaction id.
			logging.Error(
				ctx,
				d.logger,
				"Entry published but not marked sent",
				zap.Int64("entry_id", entry.ID),
				zap.Int64("transaction_id", entry.TransactionID),
				zap.Error(dbErr),
			)
		}

		return
	}

	if entry.Attempts+1 >= d.maxAttempts {
		logging.Error(
			ctx,
			d.logger,
			"Outbox entry exceeded retry budget, parking for manual intervention",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("transaction_id", entry.TransactionID),
			zap.Int("attempts", entry.Attempts+1),
			zap.Error(err),
		)

		if dbErr := d.repo.MarkFailedPermanent(ctx, entry.ID, err.Error()); dbErr != nil {
			logging.Error(ctx, d.logger, "MarkFailedPermanent failed", zap.Int64("entry_id", entry.ID), zap.Error(dbErr))
		}

		return
	}

	nextRetryAt := time.Now().Add(d.backoff(entry.Attempts))

	logging.Warn(
		ctx,
		d.logger,
		"Delivery failed, scheduling retry",
		zap.Int64("entry_id", entry.ID),
		zap.Int("attempts", entry.Attempts+1),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(err),
	)

	if dbErr := d.repo.MarkRetry(ctx, entry.ID, nextRetryAt, err.Error()); dbErr != nil {
		logging.Error(ctx, d.logger, "MarkRetry failed", zap.Int64("entry_id", entry.ID), zap.Error(dbErr))
	}
}

// backoff doubles per attempt from the configured base, capped.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	if attempts > 30 {
		attempts = 30
	}

	delay := d.baseBackoff << uint(attempts)
	if delay <= 0 || delay > d.maxBackoff {
		return d.maxBackoff
	}

	return delay
}

func transactionKey(transactionID int64) string {
	return strconv.FormatInt(transactionID, 10)
}
