package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/listing-scraper/internal/models"
)

var (
	ErrSeedFetch   = errors.New("seed page fetch failed")
	ErrPageFetch   = errors.New("page fetch failed")
	ErrUnknownSite = errors.New("unknown site")
)

// Sink receives products one at a time, in emission order.
type Sink interface {
	Emit(ctx context.Context, p *models.Product) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p *models.Product) error

func (f SinkFunc) Emit(ctx context.Context, p *models.Product) error {
	return f(ctx, p)
}

type State int

const (
	StateStart State = iota
	StateFetchingPage
	StateExtractingProducts
	StateResolvingImages
	StateEmitting
	StateDiscoveringNextPage
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateFetchingPage:
		return "fetching_page"
	case StateExtractingProducts:
		return "extracting_products"
	case StateResolvingImages:
		return "resolving_images"
	case StateEmitting:
		return "emitting"
	case StateDiscoveringNextPage:
		return "discovering_next_page"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
