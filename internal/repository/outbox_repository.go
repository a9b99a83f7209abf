package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxRepository owns the durable notification intents. Enqueue runs
// inside the caller's transaction; the claim and mark methods run in their
// own transactions because the dispatcher is not on the request path.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx pgx.Tx, transactionID int64, payload json.RawMessage) (int64, error)
	ClaimPending(ctx context.Context, limit int, lease time.Duration, claimedBy string) ([]domain.OutboxEntry, error)
	MarkSent(ctx context.Context, entryID int64) error
	MarkRetry(ctx context.Context, entryID int64, nextRetryAt time.Time, cause string) error
	MarkFailedPermanent(ctx context.Context, entryID int64, cause string) error
}

type outboxRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger) OutboxRepository {
	return &outboxRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/outbox_repo"),
	}
}

// Enqueue inserts a PENDING entry keyed uniquely on the transaction id.
// A second call with the same transaction id is a no-op that returns the
// existing entry's id, which makes the withdrawal commit idempotent with
// respect to its announcement.
func (r *outboxRepo) Enqueue(ctx context.Context, tx pgx.Tx, transactionID int64, payload json.RawMessage) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Enqueue")
	defer span.End()

	span.SetAttributes(attribute.Int64("transaction_id", transactionID))

	insert := `
		INSERT INTO outbox (transaction_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id
	`

	var id int64
	err := tx.QueryRow(ctx, insert, transactionID, payload).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "Enqueue failed", zap.Int64("transaction_id", transactionID), zap.Error(err))

		return 0, fmt.Errorf("error enqueueing outbox entry: %w", err)
	}

	// Conflict path: the entry already exists for this transaction.
	query := `SELECT id FROM outbox WHERE transaction_id = $1`
	if err := tx.QueryRow(ctx, query, transactionID).Scan(&id); err != nil {
		span.RecordError(err)

		return 0, fmt.Errorf("error resolving existing outbox entry: %w", err)
	}

	return id, nil
}

// ClaimPending selects due PENDING entries oldest first, stamps a lease on
// them and returns them. FOR UPDATE SKIP LOCKED keeps concurrent dispatcher
// workers from claiming the same rows; an expired lease makes a crashed
// worker's rows eligible again.
func (r *outboxRepo) ClaimPending(ctx context.Context, limit int, lease time.Duration, claimedBy string) ([]domain.OutboxEntry, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ClaimPending")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning claim transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.Error(cleanupCtx, r.logger, "Claim rollback failed", zap.Error(err))
		}
	}()

	query := `
		UPDATE outbox
		SET claimed_until = NOW() + $2, claimed_by = $3
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'PENDING'
			  AND next_retry_at <= NOW()
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, transaction_id, payload, status, attempts, next_retry_at,
		          claimed_until, claimed_by, last_error, created_at, sent_at
	`

	rows, err := tx.Query(ctx, query, limit, lease, claimedBy)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error claiming outbox entries: %w", err)
	}

	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.Payload,
			&e.Status,
			&e.Attempts,
			&e.NextRetryAt,
			&e.ClaimedUntil,
			&e.ClaimedBy,
			&e.LastError,
			&e.CreatedAt,
			&e.SentAt,
		); err != nil {
			rows.Close()
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error iterating outbox entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error committing claim: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(entries)))

	return entries, nil
}

// MarkSent finalizes an entry after confirmed delivery. Already-SENT
// entries are left untouched so duplicate dispatcher runs are harmless.
func (r *outboxRepo) MarkSent(ctx context.Context, entryID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkSent")
	defer span.End()

	span.SetAttributes(attribute.Int64("entry_id", entryID))

	query := `
		UPDATE outbox
		SET status = 'SENT', sent_at = NOW(), claimed_until = NULL, claimed_by = NULL, last_error = NULL
		WHERE id = $1 AND status <> 'SENT'
	`

	if _, err := r.pool.Exec(ctx, query, entryID); err != nil {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "MarkSent failed", zap.Int64("entry_id", entryID), zap.Error(err))

		return fmt.Errorf("error marking outbox entry sent: %w", err)
	}

	return nil
}

func (r *outboxRepo) MarkRetry(ctx context.Context, entryID int64, nextRetryAt time.Time, cause string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkRetry")
	defer span.End()

	span.SetAttributes(attribute.Int64("entry_id", entryID))

	query := `
		UPDATE outbox
		SET attempts = attempts + 1, next_retry_at = $2, last_error = $3,
		    claimed_until = NULL, claimed_by = NULL
		WHERE id = $1 AND status = 'PENDING'
	`

	if _, err := r.pool.Exec(ctx, query, entryID, nextRetryAt, cause); err != nil {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "MarkRetry failed", zap.Int64("entry_id", entryID), zap.Error(err))

		return fmt.Errorf("error scheduling outbox retry: %w", err)
	}

	return nil
}

func (r *outboxRepo) MarkFailedPermanent(ctx context.Context, entryID int64, cause string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailedPermanent")
	defer span.End()

	span.SetAttributes(attribute.Int64("entry_id", entryID))

	query := `
		UPDATE outbox
		SET status = 'FAILED_PERMANENT', attempts = attempts + 1, last_error = $2,
		    claimed_until = NULL, claimed_by = NULL
		WHERE id = $1 AND status = 'PENDING'
	`

	if _, err := r.pool.Exec(ctx, query, entryID, cause); err != nil {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "MarkFailedPermanent failed", zap.Int64("entry_id", entryID), zap.Error(err))

		return fmt.Errorf("error parking outbox entry: %w", err)
	}

	return nil
}
