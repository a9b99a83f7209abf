package service_test

import (
	"context"
	"sync"
	"testing"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/sakashimaa/withdrawal-service/internal/repository"
	"github.com/sakashimaa/withdrawal-service/internal/service"
	"github.com/sakashimaa/withdrawal-service/pkg/testsuite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type WithdrawalServiceSuite struct {
	testsuite.BaseSuite

	svc service.WithdrawalService
}

func (s *WithdrawalServiceSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure("../../migrations")
}

func (s *WithdrawalServiceSuite) TearDownSuite() {
	s.BaseSuite.TearDownInfrastructure()
}

func (s *WithdrawalServiceSuite) SetupTest() {
	s.BaseSuite.TruncateTable("outbox")
	s.BaseSuite.TruncateTable("transactions")
	s.BaseSuite.TruncateTable("accounts")

	logger := zap.NewNop()
	accountRepo := repository.NewAccountRepository(s.DbPool, logger)
	outboxRepo := repository.NewOutboxRepository(s.DbPool, logger)
	s.svc = service.NewWithdrawalService(s.DbPool, accountRepo, outboxRepo, logger)
}

func (s *WithdrawalServiceSuite) seedAccount(id int64, balance string, active bool) {
	_, err := s.DbPool.Exec(s.Ctx, `
		INSERT INTO accounts (id, balance, active)
		VALUES ($1, $2, $3)
	`, id, balance, active)
	s.Require().NoError(err)
}

func (s *WithdrawalServiceSuite) balance(id int64) decimal.Decimal {
	var raw string
	err := s.DbPool.QueryRow(s.Ctx, `SELECT balance::text FROM accounts WHERE id = $1`, id).Scan(&raw)
	s.Require().NoError(err)

	balance, err := decimal.NewFromString(raw)
	s.Require().NoError(err)

	return balance
}

func (s *WithdrawalServiceSuite) countRows(query string, args ...any) int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, query, args...).Scan(&count)
	s.Require().NoError(err)

	return count
}

func (s *WithdrawalServiceSuite) withdraw(accountID int64, amount string) domain.WithdrawalOutcome {
	dec, err := decimal.NewFromString(amount)
	s.Require().NoError(err)

	outcome, err := s.svc.Withdraw(s.Ctx, domain.WithdrawalRequest{AccountID: accountID, Amount: dec})
	s.Require().NoError(err)

	return outcome
}

func (s *WithdrawalServiceSuite) TestWithdraw_Success() {
	s.seedAccount(1, "100.00", true)

	outcome := s.withdraw(1, "40.00")

	s.Equal(domain.OutcomeSuccessful, outcome.Code)
	s.NotZero(outcome.TransactionID)
	s.True(s.balance(1).Equal(decimal.RequireFromString("60.00")))

	var amount, txType string
	err := s.DbPool.QueryRow(s.Ctx, `
		SELECT amount::text, type FROM transactions WHERE id = $1
	`, outcome.TransactionID).Scan(&amount, &txType)
	s.Require().NoError(err)
	s.Equal("-40.00", amount)
	s.Equal(domain.TransactionTypeWithdrawal, txType)

	var payload map[string]any
	err = s.DbPool.QueryRow(s.Ctx, `
		SELECT payload FROM outbox WHERE transaction_id = $1 AND status = 'PENDING'
	`, outcome.TransactionID).Scan(&payload)
	s.Require().NoError(err)
	s.Equal("40.00", payload["amount"])
	s.Equal("successful", payload["status"])
	s.Equal(float64(1), payload["accountId"])
	s.Equal(float64(outcome.TransactionID), payload["transactionId"])
}

func (s *WithdrawalServiceSuite) TestWithdraw_InsufficientFunds() {
	s.seedAccount(2, "10.00", true)

	outcome := s.withdraw(2, "50.00")

	s.Equal(domain.OutcomeInsufficientFunds, outcome.Code)
	s.NotZero(outcome.TransactionID)
	s.True(s.balance(2).Equal(decimal.RequireFromString("10.00")))

	// Failed attempts stay auditable: transaction row and outbox entry exist.
	s.Equal(1, s.countRows(`SELECT COUNT(*) FROM transactions WHERE account_id = 2`))

	var payload map[string]any
	err := s.DbPool.QueryRow(s.Ctx, `
		SELECT payload FROM outbox WHERE transaction_id = $1
	`, outcome.TransactionID).Scan(&payload)
	s.Require().NoError(err)
	s.Equal("insufficient funds", payload["status"])
}

func (s *WithdrawalServiceSuite) TestWithdraw_InvalidAmount() {
	s.seedAccount(3, "100.00", true)

	for _, amount := range []string{"0", "-5.00"} {
		outcome := s.withdraw(3, amount)
		s.Equal(domain.OutcomeInvalidAmount, outcome.Code)
		s.Zero(outcome.TransactionID)
	}

	s.Equal(0, s.countRows(`SELECT COUNT(*) FROM transactions`))
	s.Equal(0, s.countRows(`SELECT COUNT(*) FROM outbox`))
}

func (s *WithdrawalServiceSuite) TestWithdraw_AccountNotFound() {
	outcome := s.withdraw(404, "10.00")

	s.Equal(domain.OutcomeAccountNotFound, outcome.Code)
	s.Equal(0, s.countRows(`SELECT COUNT(*) FROM transactions`))
}

func (s *WithdrawalServiceSuite) TestWithdraw_InactiveAccount() {
	s.seedAccount(5, "100.00", false)

	outcome := s.withdraw(5, "10.00")

	s.Equal(domain.OutcomeAccountNotFound, outcome.Code)
	s.True(s.balance(5).Equal(decimal.RequireFromString("100.00")))
}

// N concurrent withdrawals of A against a balance of exactly (N-1)*A must
// produce N-1 successes and one insufficient-funds, whatever the
// interleaving.
func (s *WithdrawalServiceSuite) TestWithdraw_ConcurrentNoDoubleSpend() {
	const n = 5
	amount := decimal.RequireFromString("25.00")
	s.seedAccount(7, amount.Mul(decimal.NewFromInt(n-1)).StringFixed(2), true)

	outcomes := make([]domain.WithdrawalOutcome, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.svc.Withdraw(context.Background(), domain.WithdrawalRequest{
				AccountID: 7,
				Amount:    amount,
			})
		}(i)
	}
	wg.Wait()

	successes, insufficient := 0, 0
	for i := 0; i < n; i++ {
		s.Require().NoError(errs[i])
		switch outcomes[i].Code {
		case domain.OutcomeSuccessful:
			successes++
		case domain.OutcomeInsufficientFunds:
			insufficient++
		}
	}

	s.Equal(n-1, successes)
	s.Equal(1, insufficient)
	s.True(s.balance(7).IsZero())
	s.Equal(n, s.countRows(`SELECT COUNT(*) FROM transactions WHERE account_id = 7`))
	s.Equal(n, s.countRows(`SELECT COUNT(*) FROM outbox`))
}

func TestWithdrawalServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}

	suite.Run(t, new(WithdrawalServiceSuite))
}
