package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxPending    = "pending"
	OutboxPublished  = "published"
	OutboxRetrying   = "retrying"
	OutboxDeadLetter = "dead_letter"

	// MaxPublishAttempts failed publishes move an event to the dead letter state.
	MaxPublishAttempts = 5

	// DefaultStream receives extracted listing products.
	DefaultStream = "stream:listing_products"

	EventProductExtracted = "PRODUCT_EXTRACTED"
)

var (
	ErrInvalidEvent  = errors.New("invalid outbox event")
	ErrEventNotFound = errors.New("outbox event not found")
)

// OutboxEvent announces one stored listing product on a Redis stream.
type OutboxEvent struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	Site          string
	EventType     string
	Payload       json.RawMessage
	Stream        string
	Status        string
	Attempts      int
	LastError     *string
	StreamEntryID *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	NextAttemptAt time.Time
}

// Validate checks the fields the relay needs to publish the event.
func (e *OutboxEvent) Validate() error {
	switch {
	case e.ProductID == uuid.Nil:
		return fmt.Errorf("%w: missing product id", ErrInvalidEvent)
	case e.Site == "":
		return fmt.Errorf("%w: missing site", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	case !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
	}
	return nil
}

// OutboxBacklog counts unpublished events by state.
type OutboxBacklog struct {
	Pending    int64
	Retrying   int64
	DeadLetter int64
}

// OutboxRepository stores product events until the relay has published them.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event inside tx, next to the product row it describes.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Stream == "" {
		event.Stream = DefaultStream
	}
	event.Status = OutboxPending
	event.Attempts = 0
	event.CreatedAt = time.Now()
	event.NextAttemptAt = event.CreatedAt

	_, err := tx.Exec(ctx, `
		INSERT INTO product_outbox (
			id, product_id, site, event_type, payload, stream,
			status, created_at, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.ProductID, event.Site, event.EventType, event.Payload, event.Stream,
		event.Status, event.CreatedAt, event.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// Pending returns up to limit events that are due, oldest first.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, product_id, site, event_type, payload, stream, status,
			attempts, last_error, stream_entry_id, created_at, published_at, next_attempt_at
		FROM product_outbox
		WHERE status IN ($1, $2) AND next_attempt_at <= NOW()
		ORDER BY created_at, id
		LIMIT $3`,
		OutboxPending, OutboxRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*OutboxEvent, error) {
		e := &OutboxEvent{}
		err := row.Scan(
			&e.ID, &e.ProductID, &e.Site, &e.EventType, &e.Payload, &e.Stream, &e.Status,
			&e.Attempts, &e.LastError, &e.StreamEntryID, &e.CreatedAt, &e.PublishedAt, &e.NextAttemptAt,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}
	return events, nil
}

// MarkPublished records the stream entry the event was written to.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, entryID string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE product_outbox
		SET status = $1, stream_entry_id = $2, published_at = NOW(), last_error = NULL
		WHERE id = $3`,
		OutboxPublished, entryID, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// ScheduleRetry counts a failed publish and returns the event's new status:
// retrying with a backoff, or dead_letter after MaxPublishAttempts.
func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, cause error) (string, error) {
	var status string

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			"SELECT attempts FROM product_outbox WHERE id = $1 FOR UPDATE", id).Scan(&attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock event: %w", err)
		}

		attempts++
		status = OutboxRetrying
		if attempts >= MaxPublishAttempts {
			status = OutboxDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE product_outbox
			SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4
			WHERE id = $5`,
			status, attempts, cause.Error(), time.Now().Add(retryBackoff(attempts)), id)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Backlog counts events that still wait for the relay.
func (r *OutboxRepository) Backlog(ctx context.Context) (OutboxBacklog, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM product_outbox
		WHERE status <> $1
		GROUP BY status`, OutboxPublished)
	if err != nil {
		return OutboxBacklog{}, fmt.Errorf("failed to count outbox backlog: %w", err)
	}
	defer rows.Close()

	var backlog OutboxBacklog
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return OutboxBacklog{}, fmt.Errorf("failed to scan outbox backlog: %w", err)
		}
		switch status {
		case OutboxPending:
			backlog.Pending = count
		case OutboxRetrying:
			backlog.Retrying = count
		case OutboxDeadLetter:
			backlog.DeadLetter = count
		}
	}
	return backlog, rows.Err()
}

// GetPendingCount counts events not yet published, retries included.
func (r *OutboxRepository) GetPendingCount(ctx context.Context) (int64, error) {
	b, err := r.Backlog(ctx)
	return b.Pending + b.Retrying, err
}

func (r *OutboxRepository) GetDeadLetterCount(ctx context.Context) (int64, error) {
	b, err := r.Backlog(ctx)
	return b.DeadLetter, err
}

// retryBackoff doubles from 2s per attempt and caps at five minutes.
func retryBackoff(attempts int) time.Duration {
	if attempts > 8 {
		return 5 * time.Minute
	}
	return min(time.Duration(1<<attempts)*time.Second, 5*time.Minute)
}
