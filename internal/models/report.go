package models

import "time"

type CrawlStatus string

const (
	CrawlCompleted CrawlStatus = "completed"
	CrawlPartial   CrawlStatus = "partial"
	CrawlFailed    CrawlStatus = "failed"
	CrawlCancelled CrawlStatus = "cancelled"
)

type PageStats struct {
	Page             int    `json:"page"`
	URL              string `json:"url"`
	Products         int    `json:"products"`
	ImagesAcquired   int    `json:"images_acquired"`
	ImagesFailed     int    `json:"images_failed"`
	PaginationMethod string `json:"pagination_method,omitempty"`
}

type CrawlReport struct {
	Site         string        `json:"site"`
	SeedURL      string        `json:"seed_url"`
	Status       CrawlStatus   `json:"status"`
	Error        string        `json:"error,omitempty"`
	PagesVisited int           `json:"pages_visited"`
	Pages        []PageStats   `json:"pages"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

func (r *CrawlReport) TotalProducts() int {
	total := 0
	for _, p := range r.Pages {
		total += p.Products
	}
	return total
}

func (r *CrawlReport) TotalImages() (acquired, failed int) {
	for _, p := range r.Pages {
		acquired += p.ImagesAcquired
		failed += p.ImagesFailed
	}
	return acquired, failed
}
