package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account rows are created by account management outside this service.
// This service only reads them and conditionally decrements the balance.
type Account struct {
	ID          int64           `db:"id"`
	Balance     decimal.Decimal `db:"balance"`
	Active      bool            `db:"active"`
	LastUpdated time.Time       `db:"last_updated"`
}

const TransactionTypeWithdrawal = "WITHDRAWAL"

// Transaction is one immutable row in the append-only ledger log.
// Amount is signed: withdrawals are recorded negative.
type Transaction struct {
	ID        int64           `db:"id"`
	AccountID int64           `db:"account_id"`
	Amount    decimal.Decimal `db:"amount"`
	Type      string          `db:"type"`
	CreatedAt time.Time       `db:"created_at"`
}
