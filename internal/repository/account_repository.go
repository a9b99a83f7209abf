package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AccountRepository is the ledger store: account balances plus the
// append-only transaction log. The write methods take an explicit pgx.Tx so
// the service can compose them with the outbox enqueue into one commit.
type AccountRepository interface {
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	ConditionallyDebit(ctx context.Context, tx pgx.Tx, accountID int64, amount decimal.Decimal) (int64, error)
	AppendTransaction(ctx context.Context, tx pgx.Tx, accountID int64, amount decimal.Decimal, txType string) (int64, error)
}

type accountRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewAccountRepository(pool *pgxpool.Pool, logger *zap.Logger) AccountRepository {
	return &accountRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/account_repo"),
	}
}

func (r *accountRepo) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.Int64("account_id", accountID))

	query := `
		SELECT balance
		FROM accounts
		WHERE id = $1 AND active = TRUE
	`

	var balance decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrAccountNotFound
		}

		span.RecordError(err)
		logging.Error(ctx, r.logger, "GetBalance failed", zap.Int64("account_id", accountID), zap.Error(err))

		return decimal.Zero, fmt.Errorf("error reading balance: %w", err)
	}

	return balance, nil
}

// ConditionallyDebit decrements the balance in a single statement whose
// predicate re-checks sufficiency and activity at write time. Zero rows
// affected means the precondition failed, not an error; there is no
// separate read-then-write to race against concurrent withdrawals.
func (r *accountRepo) ConditionallyDebit(ctx context.Context, tx pgx.Tx, accountID int64, amount decimal.Decimal) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.ConditionallyDebit")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("account_id", accountID),
		attribute.String("amount", amount.StringFixed(2)),
	)

	query := `
		UPDATE accounts
		SET balance = balance - $2, last_updated = NOW()
		WHERE id = $1 AND balance >= $2 AND active = TRUE
	`

	tag, err := tx.Exec(ctx, query, accountID, amount)
	if err != nil {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "ConditionallyDebit failed", zap.Int64("account_id", accountID), zap.Error(err))

		return 0, fmt.Errorf("error debiting account: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows_affected", tag.RowsAffected()))

	return tag.RowsAffected(), nil
}

func (r *accountRepo) AppendTransaction(ctx context.Context, tx pgx.Tx, accountID int64, amount decimal.Decimal, txType string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.AppendTransaction")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("account_id", accountID),
		attribute.String("type", txType),
	)

	query := `
		INSERT INTO transactions (account_id, amount, type, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`

	var id int64
	if err := tx.QueryRow(ctx, query, accountID, amount, txType).Scan(&id); err != nil {
		span.RecordError(err)
		logging.Error(ctx, r.logger, "AppendTransaction failed", zap.Int64("account_id", accountID), zap.Error(err))

		return 0, fmt.Errorf("error recording transaction: %w", err)
	}

	return id, nil
}
