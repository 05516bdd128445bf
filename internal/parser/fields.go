package parser

import (
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
	"golang.org/x/net/html"
)

type Field string

const (
	FieldTitle       Field = "title"
	FieldPrice       Field = "price"
	FieldBrand       Field = "brand"
	FieldImage       Field = "image"
	FieldLink        Field = "link"
	FieldDescription Field = "description"
)

// FieldSet maps each logical field to its ordered strategies.
type FieldSet map[Field]Chain

type ProductOptions struct {
	CurrencyMarker string
	KnownBrands    []string
}

// FieldExtractor fills products from structural elements.
type FieldExtractor struct {
	querier Querier
	fields  FieldSet
	opts    ProductOptions
}

func NewFieldExtractor(q Querier, fields FieldSet, opts ProductOptions) *FieldExtractor {
	if q == nil {
		q = DOMQuerier{}
	}
	if opts.CurrencyMarker == "" {
		opts.CurrencyMarker = "R$"
	}
	return &FieldExtractor{querier: q, fields: fields, opts: opts}
}

// Field reads a single field. A missing value is not an error.
func (e *FieldExtractor) Field(scope *html.Node, field Field) string {
	chain, ok := e.fields[field]
	if !ok {
		return ""
	}

	var accept func(string) bool
	if field == FieldPrice {
		accept = CurrencyGuard(e.opts.CurrencyMarker)
	}

	value, _ := chain.Extract(e.querier, scope, accept)
	return value
}

// RealImage walks the image chain again accepting only real image URLs, so a
// lazy card whose first strategy hit a placeholder can still yield its
// data-src. It returns "" when the card holds no real image.
func (e *FieldExtractor) RealImage(scope *html.Node) string {
	chain, ok := e.fields[FieldImage]
	if !ok {
		return ""
	}
	value, _ := chain.Extract(e.querier, scope, IsRealImage)
	return value
}

// Fill populates p from scope. Relative links are resolved against p.SourceURL.
func (e *FieldExtractor) Fill(scope *html.Node, p *models.Product) {
	p.Title = e.Field(scope, FieldTitle)
	p.Price = e.Field(scope, FieldPrice)
	p.Brand = e.Field(scope, FieldBrand)
	p.Description = e.Field(scope, FieldDescription)
	p.ImageURL = e.Field(scope, FieldImage)

	if link := e.Field(scope, FieldLink); link != "" {
		if resolved, err := ResolveURL(p.SourceURL, link); err == nil {
			p.ProductLink = resolved
		} else {
			p.ProductLink = link
		}
	}

	if p.Brand == "" {
		p.Brand = MatchKnownBrand(p.Title, e.opts.KnownBrands)
	}
}

// MatchKnownBrand returns the canonical brand whose name appears in title.
func MatchKnownBrand(title string, brands []string) string {
	if title == "" {
		return ""
	}
	lower := strings.ToLower(title)
	for _, brand := range brands {
		if strings.Contains(lower, strings.ToLower(brand)) {
			return brand
		}
	}
	return ""
}
