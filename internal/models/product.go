package models

import (
	"time"
)

// Product is one listing entry. Price stays a currency-prefixed string since
// source sites mix decimal and thousand separator conventions.
type Product struct {
	Title            string    `json:"title"`
	Price            string    `json:"price"`
	Brand            string    `json:"brand"`
	Description      string    `json:"description,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	ResolvedImageURL string    `json:"real_image_url,omitempty"`
	ImagePath        string    `json:"image_path,omitempty"`
	IsBase64         bool      `json:"is_base64"`
	ProductLink      string    `json:"product_link,omitempty"`
	PageNumber       int       `json:"page_number"`
	SourceURL        string    `json:"source_url"`
	Category         string    `json:"category"`
	ScrapedAt        time.Time `json:"scraped_at"`
}

func NewProduct(sourceURL string, pageNumber int, category string) *Product {
	return &Product{
		SourceURL:  sourceURL,
		PageNumber: pageNumber,
		Category:   category,
		ScrapedAt:  time.Now(),
	}
}

// IsEmpty reports whether nothing identifying was extracted.
func (p *Product) IsEmpty() bool {
	return p.Title == "" && p.Price == "" && p.ProductLink == ""
}

func (p *Product) Validate() []string {
	var errors []string

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if p.SourceURL == "" {
		errors = append(errors, "SourceURL is required")
	}

	if p.PageNumber < 1 {
		errors = append(errors, "PageNumber must be positive")
	}

	return errors
}
