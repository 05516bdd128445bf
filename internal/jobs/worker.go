package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/storage"
)

// StartWorker runs queued crawls one at a time until ctx is done or the
// queue is closed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take next job", "error", err)
			continue
		}

		m.processTask(ctx, task)
	}
}

func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	m.logger.Info("processing job", "id", task.ID, "site", task.Site, "seed", task.URL)

	now := time.Now()
	m.updateJob(task.ID, func(job *Job) {
		job.Status = StatusRunning
		job.StartedAt = &now
	})

	report, err := m.runCrawl(ctx, task)

	done := time.Now()
	m.updateJob(task.ID, func(job *Job) {
		job.CompletedAt = &done
		job.Report = report
		if report != nil {
			job.PagesScraped = report.PagesVisited
		}

		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = StatusCompleted
		if report.Status != models.CrawlCompleted {
			job.Error = report.Error
		}
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
		return
	}
	m.logger.Info("job completed", "id", task.ID, "status", report.Status, "products", report.TotalProducts())
}

func (m *Manager) runCrawl(ctx context.Context, task *queue.Task) (*models.CrawlReport, error) {
	site, err := scraper.LookupSite(task.Site)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	collector := m.products[task.ID]
	m.mu.RUnlock()

	var sink storage.Sink = collector
	if m.extraSink != nil {
		if extra := m.extraSink(site.Name); extra != nil {
			sink = storage.NewMultiSink(collector, extra)
		}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			m.logger.Warn("failed to close sink", "id", task.ID, "error", err)
		}
	}()

	crawler, err := m.newCrawler(site, sink, task.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to build crawler: %w", err)
	}

	return crawler.Crawl(ctx, task.URL)
}
