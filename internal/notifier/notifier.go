// Package notifier is the downstream side of the at-least-once contract:
// it consumes withdrawal events and processes each transaction id at most
// once, no matter how many times the dispatcher delivers it.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

type Notifier struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Notifier {
	return &Notifier{
		pool:   pool,
		logger: logger,
	}
}

// HandleMessage is the consumer-group handler. Returning nil marks the
// message consumed; duplicates are detected through the processed_events
// table and acknowledged without side effects.
func (n *Notifier) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event domain.WithdrawalEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logging.Error(ctx, n.logger, "Error unmarshalling withdrawal event", zap.Error(err))

		// Malformed payloads will never parse; redelivering them is useless.
		return nil
	}

	return n.processOnce(ctx, event)
}

func (n *Notifier) processOnce(ctx context.Context, event domain.WithdrawalEvent) error {
	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.Error(cleanupCtx, n.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	query := `
		INSERT INTO processed_events (transaction_id)
		VALUES ($1)
	`

	if _, err := tx.Exec(ctx, query, event.TransactionID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			logging.Info(
				ctx,
				n.logger,
				"Event already processed, skipping",
				zap.Int64("transaction_id", event.TransactionID),
			)

			return nil
		}

		return fmt.Errorf("error recording processed event: %w", err)
	}

	n.deliver(ctx, event)

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing processed event: %w", err)
	}

	return nil
}

// deliver is the notification side effect. Here it is a structured log
// line; a real deployment would hand off to mail/SMS.
func (n *Notifier) deliver(ctx context.Context, event domain.WithdrawalEvent) {
	logging.Info(
		ctx,
		n.logger,
		"Withdrawal notification",
		zap.Int64("account_id", event.AccountID),
		zap.Int64("transaction_id", event.TransactionID),
		zap.String("amount", event.Amount),
		zap.String("status", string(event.Status)),
	)
}
