package domain

import "github.com/shopspring/decimal"

// WithdrawalStatus is the outward-facing status of a withdrawal attempt.
// The string values are a compatibility surface for downstream consumers
// and must not change.
type WithdrawalStatus string

const (
	StatusSuccessful        WithdrawalStatus = "successful"
	StatusInsufficientFunds WithdrawalStatus = "insufficient funds"
)

type OutcomeCode int

const (
	OutcomeSuccessful OutcomeCode = iota
	OutcomeInsufficientFunds
	OutcomeAccountNotFound
	OutcomeInvalidAmount
	OutcomeSystemFailure
)

func (c OutcomeCode) String() string {
	switch c {
	case OutcomeSuccessful:
		return "successful"
	case OutcomeInsufficientFunds:
		return "insufficient_funds"
	case OutcomeAccountNotFound:
		return "account_not_found"
	case OutcomeInvalidAmount:
		return "invalid_amount"
	default:
		return "system_failure"
	}
}

// WithdrawalOutcome is the synchronous answer to a withdrawal attempt.
// TransactionID is set only for outcomes that reached the ledger
// (successful and insufficient funds).
type WithdrawalOutcome struct {
	Code          OutcomeCode
	TransactionID int64
}

// WithdrawalRequest is the engine's input after transport-level parsing.
type WithdrawalRequest struct {
	AccountID int64
	Amount    decimal.Decimal
}
