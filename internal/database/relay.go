package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-scraper/internal/monitoring"
)

// RedisClient is the part of *redis.Client the relay writes with.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxStore is the part of *OutboxRepository the relay drives.
type OutboxStore interface {
	Pending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, entryID string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, cause error) (string, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxLen trims each stream to about this many entries; 0 keeps all.
	MaxLen int64
	// PerSiteStreams publishes to "<stream>:<site>" instead of "<stream>".
	PerSiteStreams bool
}

// Relay copies stored product events from the outbox onto Redis streams.
type Relay struct {
	outbox    OutboxStore
	redis     RedisClient
	metrics   *monitoring.Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
	perSite   bool
}

func NewRelay(outbox OutboxStore, redisClient RedisClient, metrics *monitoring.Metrics, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		outbox:    outbox,
		redis:     redisClient,
		metrics:   metrics,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.MaxLen,
		perSite:   config.PerSiteStreams,
	}
}

// Start drains the outbox on every tick until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"per_site_streams", r.perSite)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain publishes batches until one comes back short, so a crawl burst
// does not wait a tick per batch.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.publishBatch(ctx)
		if err != nil {
			r.logger.Error("failed to read outbox", "error", err)
			return
		}
		if n < r.batchSize {
			return
		}
	}
}

// publishBatch returns how many events it read. A failed event is scheduled
// for retry and does not stop the rest of the batch.
func (r *Relay) publishBatch(ctx context.Context) (int, error) {
	events, err := r.outbox.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		entryID, err := r.publish(ctx, event)
		if err != nil {
			r.fail(ctx, event, err)
			continue
		}

		if err := r.outbox.MarkPublished(ctx, event.ID, entryID); err != nil {
			// The entry is on the stream; consumers dedupe on event_id if it goes out twice.
			r.logger.Error("failed to mark event published", "event_id", event.ID, "error", err)
			continue
		}
		r.metrics.IncOutbox(event.Site, OutboxPublished)
		r.logger.Debug("product event published",
			"event_id", event.ID,
			"product_id", event.ProductID,
			"stream", r.streamFor(event),
			"entry_id", entryID)
	}

	return len(events), nil
}

func (r *Relay) fail(ctx context.Context, event *OutboxEvent, cause error) {
	status, err := r.outbox.ScheduleRetry(ctx, event.ID, cause)
	if err != nil {
		r.logger.Error("failed to schedule retry", "event_id", event.ID, "error", err)
		return
	}
	r.metrics.IncOutbox(event.Site, status)
	r.logger.Warn("product event not published",
		"event_id", event.ID,
		"site", event.Site,
		"status", status,
		"error", cause)
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) (string, error) {
	values, err := streamValues(event)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: r.streamFor(event),
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	entryID, err := r.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}
	return entryID, nil
}

func (r *Relay) streamFor(event *OutboxEvent) string {
	stream := event.Stream
	if stream == "" {
		stream = DefaultStream
	}
	if r.perSite && event.Site != "" {
		return stream + ":" + event.Site
	}
	return stream
}

// streamValues flattens the product so consumers can filter on site or
// category without decoding the payload. The payload travels unchanged.
func streamValues(event *OutboxEvent) (map[string]any, error) {
	var p ProductEvent
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if p.ProductID != event.ProductID.String() {
		return nil, fmt.Errorf("%w: payload product %q does not match event product %s",
			ErrInvalidEvent, p.ProductID, event.ProductID)
	}

	return map[string]any{
		"event_id":     event.ID.String(),
		"event_type":   event.EventType,
		"product_id":   p.ProductID,
		"site":         p.Site,
		"category":     p.Category,
		"title":        p.Title,
		"price":        p.Price,
		"page":         p.PageNumber,
		"image_path":   p.ImagePath,
		"extracted_at": p.ExtractedAt.UTC().Format(time.RFC3339),
		"payload":      string(event.Payload),
	}, nil
}
