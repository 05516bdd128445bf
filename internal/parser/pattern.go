package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/maltedev/listing-scraper/internal/models"
)

var ErrMalformedMatch = errors.New("malformed product match")

const pricePattern = `(\d+(?:[.,]\d+)*)`

// PatternMatcher extracts products from flattened page text for sites whose
// markup carries no usable product boundaries.
type PatternMatcher struct {
	primary        *regexp.Regexp
	fallback       *regexp.Regexp
	minTitleLength int
	logger         *slog.Logger
}

func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{
		// <index>. <id> <title> **<brand>** R$ <price>
		primary: regexp.MustCompile(`(?s)(\d+)\.\s*(\d+)\s*(.*?)\s*\*\*(.*?)\*\*\s*R\$\s*` + pricePattern),
		// <title> **<brand>** R$ <price>
		fallback:       regexp.MustCompile(`(?s)(.*?)\s*\*\*(.*?)\*\*\s*R\$\s*` + pricePattern),
		minTitleLength: 5,
		logger:         slog.Default().With("component", "pattern_matcher"),
	}
}

// Match returns products found in doc.RawText. The fallback pattern only runs
// when the primary one matched nothing.
func (m *PatternMatcher) Match(doc *Document, pageNumber int, category string) []*models.Product {
	return m.MatchText(doc.RawText, doc.URL, pageNumber, category)
}

func (m *PatternMatcher) MatchText(text, sourceURL string, pageNumber int, category string) []*models.Product {
	var products []*models.Product

	for _, groups := range m.primary.FindAllStringSubmatch(text, -1) {
		product, err := m.fromPrimary(groups, sourceURL, pageNumber, category)
		if err != nil {
			m.logger.Debug("skipping match", "error", err)
			continue
		}
		products = append(products, product)
	}

	if len(products) > 0 {
		return products
	}

	for _, groups := range m.fallback.FindAllStringSubmatch(text, -1) {
		product, err := m.fromFallback(groups, sourceURL, pageNumber, category)
		if err != nil {
			m.logger.Debug("skipping fallback match", "error", err)
			continue
		}
		products = append(products, product)
	}

	return products
}

func (m *PatternMatcher) fromPrimary(groups []string, sourceURL string, pageNumber int, category string) (*models.Product, error) {
	if len(groups) != 6 {
		return nil, fmt.Errorf("%w: expected 6 groups, got %d", ErrMalformedMatch, len(groups))
	}

	id := strings.TrimSpace(groups[2])
	title := collapseSpace(groups[3])
	if title == "" {
		return nil, fmt.Errorf("%w: empty title for id %s", ErrMalformedMatch, id)
	}

	product := models.NewProduct(sourceURL, pageNumber, category)
	product.Title = title
	product.Brand = collapseSpace(groups[4])
	product.Price = "R$ " + groups[5]
	product.Description = "Produto " + id

	return product, nil
}

func (m *PatternMatcher) fromFallback(groups []string, sourceURL string, pageNumber int, category string) (*models.Product, error) {
	if len(groups) != 4 {
		return nil, fmt.Errorf("%w: expected 4 groups, got %d", ErrMalformedMatch, len(groups))
	}

	title := collapseSpace(groups[1])
	if utf8.RuneCountInString(title) <= m.minTitleLength {
		return nil, fmt.Errorf("%w: title %q too short", ErrMalformedMatch, title)
	}

	product := models.NewProduct(sourceURL, pageNumber, category)
	product.Title = title
	product.Brand = collapseSpace(groups[2])
	product.Price = "R$ " + groups[3]

	return product, nil
}
