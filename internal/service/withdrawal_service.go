package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/internal/repository"
	"github.com/sakashimaa/withdrawal-service/pkg/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithdrawalService decides withdrawals. The ledger mutation, the
// transaction log row and the outbox entry commit as one unit; the
// notification transport is never touched on this path.
type WithdrawalService interface {
	Withdraw(ctx context.Context, req domain.WithdrawalRequest) (domain.WithdrawalOutcome, error)
}

type withdrawalService struct {
	pool        *pgxpool.Pool
	accountRepo repository.AccountRepository
	outboxRepo  repository.OutboxRepository
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewWithdrawalService(
	pool *pgxpool.Pool,
	accountRepo repository.AccountRepository,
	outboxRepo repository.OutboxRepository,
	logger *zap.Logger,
) WithdrawalService {
	return &withdrawalService{
		pool:        pool,
		accountRepo: accountRepo,
		outboxRepo:  outboxRepo,
		logger:      logger,
		tracer:      otel.Tracer("service/withdrawal_service"),
	}
}

// Withdraw returns a terminal outcome for every attempt. A non-nil error
// always pairs with OutcomeSystemFailure and means nothing was persisted
// for this attempt beyond what had already committed.
func (s *withdrawalService) Withdraw(ctx context.Context, req domain.WithdrawalRequest) (domain.WithdrawalOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "WithdrawalService.Withdraw")
	defer span.End()

	logging.Info(
		ctx,
		s.logger,
		"Processing withdrawal",
		zap.Int64("account_id", req.AccountID),
		zap.String("amount", req.Amount.String()),
	)

	// Non-positive amounts never reach the ledger and leave no audit row.
	if !req.Amount.IsPositive() {
		logging.Warn(ctx, s.logger, "Rejected non-positive amount", zap.String("amount", req.Amount.String()))

		return domain.WithdrawalOutcome{Code: domain.OutcomeInvalidAmount}, nil
	}

	if _, err := s.accountRepo.GetBalance(ctx, req.AccountID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			logging.Warn(ctx, s.logger, "Account not found or inactive", zap.Int64("account_id", req.AccountID))

			return domain.WithdrawalOutcome{Code: domain.OutcomeAccountNotFound}, nil
		}

		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		logging.Error(ctx, s.logger, "Error beginning transaction", zap.Error(err))

		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.Warn(
				cleanupCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
				zap.String("method_name", "Withdraw"),
			)
		}
	}()

	// Every attempt against a valid account is logged before the outcome
	// is known, so failed attempts stay auditable.
	transactionID, err := s.accountRepo.AppendTransaction(ctx, tx, req.AccountID, req.Amount.Neg(), domain.TransactionTypeWithdrawal)
	if err != nil {
		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, err
	}

	rows, err := s.accountRepo.ConditionallyDebit(ctx, tx, req.AccountID, req.Amount)
	if err != nil {
		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, err
	}

	status := domain.StatusSuccessful
	code := domain.OutcomeSuccessful
	if rows == 0 {
		status = domain.StatusInsufficientFunds
		code = domain.OutcomeInsufficientFunds
	}

	if err := s.enqueueEvent(ctx, tx, req.AccountID, req.Amount, status, transactionID); err != nil {
		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, err
	}

	if err := tx.Commit(ctx); err != nil {
		logging.Error(ctx, s.logger, "Error committing withdrawal", zap.Error(err))

		return domain.WithdrawalOutcome{Code: domain.OutcomeSystemFailure}, fmt.Errorf("error committing withdrawal: %w", err)
	}

	logging.Info(
		ctx,
		s.logger,
		"Withdrawal decided",
		zap.Int64("account_id", req.AccountID),
		zap.Int64("transaction_id", transactionID),
		zap.String("status", string(status)),
	)

	return domain.WithdrawalOutcome{Code: code, TransactionID: transactionID}, nil
}

func (s *withdrawalService) enqueueEvent(
	ctx context.Context,
	tx pgx.Tx,
	accountID int64,
	amount decimal.Decimal,
	status domain.WithdrawalStatus,
	transactionID int64,
) error {
	event := domain.NewWithdrawalEvent(accountID, amount, status, transactionID)

	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("error marshalling withdrawal event: %w", err)
	}

	if _, err := s.outboxRepo.Enqueue(ctx, tx, transactionID, payload); err != nil {
		return err
	}

	return nil
}
