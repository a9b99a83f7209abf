package domain

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending         OutboxStatus = "PENDING"
	OutboxSent            OutboxStatus = "SENT"
	OutboxFailedPermanent OutboxStatus = "FAILED_PERMANENT"
)

// OutboxEntry is a durable notification intent. It is written in the same
// transaction as the ledger mutation it describes and drained asynchronously
// by the dispatcher. One entry per transaction, enforced by a unique key.
type OutboxEntry struct {
	ID            int64           `db:"id"`
	TransactionID int64           `db:"transaction_id"`
	Payload       json.RawMessage `db:"payload"`
	Status        OutboxStatus    `db:"status"`
	Attempts      int             `db:"attempts"`
	NextRetryAt   time.Time       `db:"next_retry_at"`
	ClaimedUntil  *time.Time      `db:"claimed_until"`
	ClaimedBy     *string         `db:"claimed_by"`
	LastError     *string         `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	SentAt        *time.Time      `db:"sent_at"`
}
