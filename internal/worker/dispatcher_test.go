package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/withdrawal-service/internal/config"
	"github.com/sakashimaa/withdrawal-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOutboxRepo struct {
	pending []domain.OutboxEntry

	sent    []int64
	retried map[int64]time.Time
	parked  []int64
}

func newFakeOutboxRepo(entries ...domain.OutboxEntry) *fakeOutboxRepo {
	return &fakeOutboxRepo{
		pending: entries,
		retried: make(map[int64]time.Time),
	}
}

func (f *fakeOutboxRepo) Enqueue(ctx context.Context, tx pgx.Tx, transactionID int64, payload json.RawMessage) (int64, error) {
	return 0, errors.New("not used by dispatcher")
}

func (f *fakeOutboxRepo) ClaimPending(ctx context.Context, limit int, lease time.Duration, claimedBy string) ([]domain.OutboxEntry, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	claimed := f.pending[:limit]
	f.pending = f.pending[limit:]

	return claimed, nil
}

func (f *fakeOutboxRepo) MarkSent(ctx context.Context, entryID int64) error {
	f.sent = append(f.sent, entryID)
	return nil
}

func (f *fakeOutboxRepo) MarkRetry(ctx context.Context, entryID int64, nextRetryAt time.Time, cause string) error {
	f.retried[entryID] = nextRetryAt
	return nil
}

func (f *fakeOutboxRepo) MarkFailedPermanent(ctx context.Context, entryID int64, cause string) error {
	f.parked = append(f.parked, entryID)
	return nil
}

type fakePublisher struct {
	err      error
	messages []publishedMessage
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

func (f *fakePublisher) ProduceMessage(ctx context.Context, topic string, key string, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, publishedMessage{topic: topic, key: key, value: value})

	return nil
}

func testConfig() config.Outbox {
	return config.Outbox{
		Interval:    10 * time.Millisecond,
		BatchSize:   10,
		ClaimLease:  30 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}
}

func entry(id, transactionID int64, attempts int) domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:            id,
		TransactionID: transactionID,
		Payload:       json.RawMessage(`{"transactionId":` + strconv.FormatInt(transactionID, 10) + `}`),
		Status:        domain.OutboxPending,
		Attempts:      attempts,
	}
}

func TestDispatcher_PublishesAndMarksSent(t *testing.T) {
	repo := newFakeOutboxRepo(entry(1, 7, 0), entry(2, 8, 0))
	publisher := &fakePublisher{}

	d := NewDispatcher(repo, publisher, "withdrawal_events", testConfig(), zap.NewNop())
	require.NoError(t, d.processBatch(context.Background()))

	assert.Equal(t, []int64{1, 2}, repo.sent)
	require.Len(t, publisher.messages, 2)
	assert.Equal(t, "withdrawal_events", publisher.messages[0].topic)
	assert.Equal(t, "7", publisher.messages[0].key)
	assert.Empty(t, repo.retried)
	assert.Empty(t, repo.parked)
}

func TestDispatcher_SchedulesRetryOnFailure(t *testing.T) {
	repo := newFakeOutboxRepo(entry(1, 7, 0))
	publisher := &fakePublisher{err: errors.New("broker unavailable")}

	d := NewDispatcher(repo, publisher, "withdrawal_events", testConfig(), zap.NewNop())
	before := time.Now()
	require.NoError(t, d.processBatch(context.Background()))

	assert.Empty(t, repo.sent)
	require.Contains(t, repo.retried, int64(1))
	// First retry lands one base-backoff after the failure.
	assert.WithinDuration(t, before.Add(time.Second), repo.retried[1], 500*time.Millisecond)
}

func TestDispatcher_ParksEntryAfterRetryBudget(t *testing.T) {
	// Two prior attempts with MaxAttempts=3: this failure is the last one.
	repo := newFakeOutboxRepo(entry(1, 7, 2))
	publisher := &fakePublisher{err: errors.New("broker unavailable")}

	d := NewDispatcher(repo, publisher, "withdrawal_events", testConfig(), zap.NewNop())
	require.NoError(t, d.processBatch(context.Background()))

	assert.Empty(t, repo.sent)
	assert.Empty(t, repo.retried)
	assert.Equal(t, []int64{1}, repo.parked)
}

func TestDispatcher_BackoffDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(newFakeOutboxRepo(), &fakePublisher{}, "t", testConfig(), zap.NewNop())

	assert.Equal(t, time.Second, d.backoff(0))
	assert.Equal(t, 2*time.Second, d.backoff(1))
	assert.Equal(t, 4*time.Second, d.backoff(2))
	assert.Equal(t, time.Minute, d.backoff(10))
	assert.Equal(t, time.Minute, d.backoff(63))
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	repo := newFakeOutboxRepo()
	d := NewDispatcher(repo, &fakePublisher{}, "t", testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}
