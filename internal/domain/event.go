package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// WithdrawalEvent is the payload delivered on the withdrawal_events topic.
// Field names, casing and the string form of Amount are fixed for downstream
// consumers; TransactionID lets them deduplicate redelivered events.
type WithdrawalEvent struct {
	Amount        string           `json:"amount"`
	AccountID     int64            `json:"accountId"`
	Status        WithdrawalStatus `json:"status"`
	TransactionID int64            `json:"transactionId"`
}

func NewWithdrawalEvent(accountID int64, amount decimal.Decimal, status WithdrawalStatus, transactionID int64) WithdrawalEvent {
	return WithdrawalEvent{
		Amount:        amount.StringFixed(2),
		AccountID:     accountID,
		Status:        status,
		TransactionID: transactionID,
	}
}

func (e WithdrawalEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
