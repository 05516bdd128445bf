package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/models"
)

// ProductEvent is the outbox payload published for every stored product.
type ProductEvent struct {
	ProductID   string    `json:"product_id"`
	Site        string    `json:"site"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Brand       string    `json:"brand,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ImagePath   string    `json:"image_path,omitempty"`
	ProductLink string    `json:"product_link,omitempty"`
	PageNumber  int       `json:"page_number"`
	SourceURL   string    `json:"source_url"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// NewProductEvent builds the outbox event announcing p.
func NewProductEvent(id uuid.UUID, site, stream string, p *models.Product) (*OutboxEvent, error) {
	payload, err := json.Marshal(ProductEvent{
		ProductID:   id.String(),
		Site:        site,
		Category:    p.Category,
		Title:       p.Title,
		Price:       p.Price,
		Brand:       p.Brand,
		ImageURL:    p.ImageURL,
		ImagePath:   p.ImagePath,
		ProductLink: p.ProductLink,
		PageNumber:  p.PageNumber,
		SourceURL:   p.SourceURL,
		ExtractedAt: p.ScrapedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal product event: %w", err)
	}

	return &OutboxEvent{
		ProductID: id,
		Site:      site,
		EventType: EventProductExtracted,
		Payload:   payload,
		Stream:    stream,
	}, nil
}

// ProductSink stores emitted products and queues one outbox event per
// product in the same transaction.
type ProductSink struct {
	db     *DB
	outbox *OutboxRepository
	site   string
	stream string
}

func NewProductSink(db *DB, site, stream string) *ProductSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &ProductSink{
		db:     db,
		outbox: NewOutboxRepository(db),
		site:   site,
		stream: stream,
	}
}

func (s *ProductSink) Emit(ctx context.Context, p *models.Product) error {
	id := uuid.New()

	event, err := NewProductEvent(id, s.site, s.stream, p)
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := insertProduct(ctx, tx, id, s.site, p); err != nil {
			return err
		}
		return s.outbox.InsertWithTx(ctx, tx, event)
	})
}

// Close is a no-op; the pool belongs to the caller.
func (s *ProductSink) Close() error {
	return nil
}

func insertProduct(ctx context.Context, tx pgx.Tx, id uuid.UUID, site string, p *models.Product) error {
	query := `
		INSERT INTO listing_products (
			id, site, category, title, price, brand, description,
			image_url, real_image_url, image_path, is_base64,
			product_link, page_number, source_url, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	_, err := tx.Exec(ctx, query,
		id, site, p.Category, p.Title, p.Price, p.Brand, p.Description,
		p.ImageURL, p.ResolvedImageURL, p.ImagePath, p.IsBase64,
		p.ProductLink, p.PageNumber, p.SourceURL, scrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	return nil
}

// CountProducts returns how many products were stored for site.
func (db *DB) CountProducts(ctx context.Context, site string) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM listing_products WHERE site = $1", site).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}
