package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the crawl counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PagesTotal      *prometheus.CounterVec
	ProductsTotal   *prometheus.CounterVec
	ImagesTotal     *prometheus.CounterVec
	PaginationTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	OutboxTotal     *prometheus.CounterVec
}

// NewMetrics registers the counters on reg; pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_pages_fetched_total",
			Help: "Listing pages fetched and parsed",
		}, []string{"site"}),
		ProductsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_products_emitted_total",
			Help: "Products handed to the output sink",
		}, []string{"site"}),
		ImagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_images_total",
			Help: "Image acquisitions by result",
		}, []string{"site", "result"}), // acquired, failed
		PaginationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_pagination_resolved_total",
			Help: "Next-page discoveries by method",
		}, []string{"site", "method"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_errors_total",
			Help: "Errors encountered while crawling",
		}, []string{"site", "type"}), // e.g. 'fetch_failed', 'sink_failed'
		OutboxTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_outbox_events_total",
			Help: "Outbox relay outcomes per product event",
		}, []string{"site", "status"}), // published, retrying, dead_letter
	}
}

func (m *Metrics) IncPages(site string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(site).Inc()
}

func (m *Metrics) IncProducts(site string) {
	if m == nil {
		return
	}
	m.ProductsTotal.WithLabelValues(site).Inc()
}

func (m *Metrics) IncImages(site string, acquired bool) {
	if m == nil {
		return
	}
	result := "failed"
	if acquired {
		result = "acquired"
	}
	m.ImagesTotal.WithLabelValues(site, result).Inc()
}

func (m *Metrics) IncPagination(site, method string) {
	if m == nil {
		return
	}
	m.PaginationTotal.WithLabelValues(site, method).Inc()
}

func (m *Metrics) IncErrors(site, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(site, errorType).Inc()
}

func (m *Metrics) IncOutbox(site, status string) {
	if m == nil {
		return
	}
	m.OutboxTotal.WithLabelValues(site, status).Inc()
}
