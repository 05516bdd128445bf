package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	jobs   *jobs.Manager
	outbox OutboxStats
	logger *slog.Logger
}

// NewHandlers wires the job endpoints. outbox may be nil when persistence is off.
func NewHandlers(jobs *jobs.Manager, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:   jobs,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// CreateCrawlRequest represents a new crawl job request
type CreateCrawlRequest struct {
	Site     string `json:"site"`
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

// CreateCrawlResponse represents the job creation response
type CreateCrawlResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SiteInfo struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	SeedURL    string `json:"seed_url"`
	Pagination string `json:"pagination"`
}

// ListSites returns the built-in site profiles
func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	names := scraper.SiteNames()
	sites := make([]SiteInfo, 0, len(names))
	for _, name := range names {
		site, err := scraper.LookupSite(name)
		if err != nil {
			continue
		}
		sites = append(sites, SiteInfo{
			Name:       site.Name,
			Category:   site.Category,
			SeedURL:    site.SeedURL,
			Pagination: site.Pagination.String(),
		})
	}

	h.respondJSON(w, http.StatusOK, sites)
}

// CreateCrawl handles new crawl job creation
func (h *Handlers) CreateCrawl(w http.ResponseWriter, r *http.Request) {
	var req CreateCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Site == "" {
		h.respondError(w, http.StatusBadRequest, "site is required")
		return
	}

	if req.MaxPages < 0 {
		h.respondError(w, http.StatusBadRequest, "max_pages cannot be negative")
		return
	}
	if req.MaxPages == 0 {
		req.MaxPages = 10
	}

	job, err := h.jobs.CreateJob(r.Context(), req.Site, req.URL, req.MaxPages)
	if err != nil {
		if errors.Is(err, scraper.ErrUnknownSite) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, queue.ErrQueueFull) {
			h.respondError(w, http.StatusServiceUnavailable, "crawl queue is full")
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateCrawlResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

// GetCrawl handles job status retrieval
func (h *Handlers) GetCrawl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListCrawls handles listing all jobs
func (h *Handlers) ListCrawls(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs(r.Context()))
}

// GetCrawlProducts handles retrieving products emitted by a job
func (h *Handlers) GetCrawlProducts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	products, err := h.jobs.GetJobProducts(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, products)
}

// GetStats handles statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats(r.Context()))
}

// Health reports ok, or degrades on outbox backlog when persistence is on.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, _ := h.outbox.GetPendingCount(r.Context())
		deadLetterCount, _ := h.outbox.GetDeadLetterCount(r.Context())

		health["outbox"] = map[string]any{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}

		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
