package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

func TestOutboxEvent_Validate(t *testing.T) {
	valid := func() *OutboxEvent {
		return &OutboxEvent{
			ProductID: uuid.New(),
			Site:      "tauste",
			EventType: EventProductExtracted,
			Payload:   json.RawMessage(`{"product_id":"p-001"}`),
		}
	}

	testCases := []struct {
		name   string
		mutate func(e *OutboxEvent)
		valid  bool
	}{
		{name: "complete event", mutate: func(*OutboxEvent) {}, valid: true},
		{name: "missing product", mutate: func(e *OutboxEvent) { e.ProductID = uuid.Nil }},
		{name: "missing site", mutate: func(e *OutboxEvent) { e.Site = "" }},
		{name: "missing event type", mutate: func(e *OutboxEvent) { e.EventType = "" }},
		{name: "missing payload", mutate: func(e *OutboxEvent) { e.Payload = nil }},
		{name: "malformed payload", mutate: func(e *OutboxEvent) { e.Payload = json.RawMessage(`{`) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event := valid()
			tc.mutate(event)

			err := event.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEvent)
			}
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	testCases := []struct {
		attempts int
		backoff  time.Duration
	}{
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{40, 5 * time.Minute},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.backoff, retryBackoff(tc.attempts), "attempts=%d", tc.attempts)
	}
}

// emitProduct stores one product through the sink and returns its event.
func emitProduct(t *testing.T, db *DB, site, title string) *OutboxEvent {
	t.Helper()
	ctx := context.Background()

	p := models.NewProduct("https://www.tauste.com.br/vinhos", 1, "vinhos")
	p.Title = title
	p.Price = "R$ 59,90"
	require.NoError(t, NewProductSink(db, site, "").Emit(ctx, p))

	var id uuid.UUID
	require.NoError(t, db.QueryRow(ctx,
		"SELECT o.id FROM product_outbox o JOIN listing_products p ON p.id = o.product_id WHERE p.title = $1",
		title).Scan(&id))

	pending, err := NewOutboxRepository(db).Pending(ctx, 100)
	require.NoError(t, err)
	for _, e := range pending {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("event for %q not pending", title)
	return nil
}

func TestOutboxRepository_Pending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	first := emitProduct(t, db, "tauste", "Malbec")
	second := emitProduct(t, db, "tauste", "Cabernet")
	third := emitProduct(t, db, "mercadolivre", "Cafeteira")

	assert.Equal(t, OutboxPending, first.Status)
	assert.Equal(t, DefaultStream, first.Stream)
	assert.Equal(t, "tauste", first.Site)

	t.Run("oldest first with limit", func(t *testing.T) {
		pending, err := repo.Pending(ctx, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, second.ID, pending[1].ID)
	})

	t.Run("skips published and not yet due", func(t *testing.T) {
		require.NoError(t, repo.MarkPublished(ctx, first.ID, "1-0"))
		_, err := db.Exec(ctx,
			"UPDATE product_outbox SET next_attempt_at = NOW() + INTERVAL '1 hour' WHERE id = $1", second.ID)
		require.NoError(t, err)

		pending, err := repo.Pending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, third.ID, pending[0].ID)
	})
}

func TestOutboxRepository_MarkPublished(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := emitProduct(t, db, "tauste", "Malbec")

	require.NoError(t, repo.MarkPublished(ctx, event.ID, "1714564800000-0"))

	var (
		status  string
		entryID string
	)
	require.NoError(t, db.QueryRow(ctx,
		"SELECT status, stream_entry_id FROM product_outbox WHERE id = $1", event.ID).Scan(&status, &entryID))
	assert.Equal(t, OutboxPublished, status)
	assert.Equal(t, "1714564800000-0", entryID)

	assert.ErrorIs(t, repo.MarkPublished(ctx, uuid.New(), "1-0"), ErrEventNotFound)
}

func TestOutboxRepository_ScheduleRetry(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := emitProduct(t, db, "tauste", "Malbec")

	status, err := repo.ScheduleRetry(ctx, event.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, OutboxRetrying, status)

	pending, err := repo.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "a retried event waits for its backoff")

	for i := 2; i < MaxPublishAttempts; i++ {
		_, err = repo.ScheduleRetry(ctx, event.ID, assert.AnError)
		require.NoError(t, err)
	}
	status, err = repo.ScheduleRetry(ctx, event.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, OutboxDeadLetter, status)

	backlog, err := repo.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxBacklog{DeadLetter: 1}, backlog)

	_, err = repo.ScheduleRetry(ctx, uuid.New(), assert.AnError)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestOutboxRepository_Backlog(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	published := emitProduct(t, db, "tauste", "Malbec")
	retried := emitProduct(t, db, "tauste", "Cabernet")
	emitProduct(t, db, "tauste", "Rosé")

	require.NoError(t, repo.MarkPublished(ctx, published.ID, "1-0"))
	_, err := repo.ScheduleRetry(ctx, retried.ID, assert.AnError)
	require.NoError(t, err)

	backlog, err := repo.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxBacklog{Pending: 1, Retrying: 1}, backlog)

	pendingCount, err := repo.GetPendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pendingCount)

	deadLetters, err := repo.GetDeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, deadLetters)
}

// setupTestDB connects to LISTING_TEST_DATABASE_URL and resets the tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("LISTING_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LISTING_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewFromURL(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE listing_products, product_outbox")
	require.NoError(t, err)

	return db
}
