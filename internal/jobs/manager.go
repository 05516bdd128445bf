package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/storage"
)

var ErrJobNotFound = errors.New("job not found")

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CrawlerFactory builds the crawler for one job.
type CrawlerFactory func(site *scraper.Site, sink scraper.Sink, maxPages int) (*scraper.Crawler, error)

// SinkFactory returns an extra sink that receives a job's products alongside
// the in-memory collector, e.g. the database product sink. It may return nil.
type SinkFactory func(site string) storage.Sink

type Manager struct {
	queue      queue.Queue
	newCrawler CrawlerFactory
	extraSink  SinkFactory
	logger     *slog.Logger

	mu       sync.RWMutex
	jobs     map[string]*Job
	products map[string]*storage.Collector
}

func NewManager(q queue.Queue, newCrawler CrawlerFactory, extraSink SinkFactory, logger *slog.Logger) *Manager {
	return &Manager{
		queue:      q,
		newCrawler: newCrawler,
		extraSink:  extraSink,
		logger:     logger.With("component", "job_manager"),
		jobs:       make(map[string]*Job),
		products:   make(map[string]*storage.Collector),
	}
}

// Job represents a crawl job
type Job struct {
	ID            string              `json:"id"`
	Site          string              `json:"site"`
	SeedURL       string              `json:"seed_url"`
	MaxPages      int                 `json:"max_pages"`
	Status        string              `json:"status"`
	PagesScraped  int                 `json:"pages_scraped"`
	ProductsFound int                 `json:"products_found"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	Error         string              `json:"error,omitempty"`
	Report        *models.CrawlReport `json:"report,omitempty"`
}

// Stats represents crawl job statistics
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalProducts int     `json:"total_products"`
	SuccessRate   float64 `json:"success_rate"`
}

// CreateJob validates the site, queues the crawl and returns the pending job.
// An empty seedURL uses the site's default listing.
func (m *Manager) CreateJob(ctx context.Context, siteName, seedURL string, maxPages int) (*Job, error) {
	site, err := scraper.LookupSite(siteName)
	if err != nil {
		return nil, err
	}
	if seedURL == "" {
		seedURL = site.SeedURL
	}

	job := &Job{
		ID:        uuid.New().String(),
		Site:      site.Name,
		SeedURL:   seedURL,
		MaxPages:  maxPages,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.products[job.ID] = storage.NewCollector()
	m.mu.Unlock()

	err = m.queue.Push(&queue.Task{
		ID:        job.ID,
		Site:      job.Site,
		URL:       job.SeedURL,
		MaxPages:  job.MaxPages,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		delete(m.products, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "site", job.Site, "seed", job.SeedURL)
	return m.snapshot(job), nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job), nil
}

// ListJobs lists jobs, newest first
func (m *Manager) ListJobs(_ context.Context) []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// GetJobProducts retrieves products emitted by a job so far
func (m *Manager) GetJobProducts(_ context.Context, jobID string) ([]*models.Product, error) {
	m.mu.RLock()
	collector, ok := m.products[jobID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrJobNotFound
	}
	return collector.Products(), nil
}

func (m *Manager) GetStats(_ context.Context) *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for id, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		stats.TotalProducts += m.products[id].Len()
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}
	return stats
}

// snapshot copies job so callers never share the worker's instance.
// Callers hold mu.
func (m *Manager) snapshot(job *Job) *Job {
	cp := *job
	cp.ProductsFound = m.products[job.ID].Len()
	return &cp
}

func (m *Manager) updateJob(jobID string, fn func(job *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}
