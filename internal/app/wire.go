// Package app builds the crawl stack shared by the CLI and the job service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/fetch"
	"github.com/maltedev/listing-scraper/internal/images"
	"github.com/maltedev/listing-scraper/internal/monitoring"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// Stack holds the long-lived collaborators a crawl needs.
type Stack struct {
	cfg       *config.Config
	http      *fetch.HTTPClient
	browser   *browser.Browser
	imageOpts *images.Options
	metrics   *monitoring.Metrics
	logger    *slog.Logger
}

// NewStack creates the HTTP client, the optional rendering browser and the
// image settings described by cfg.
func NewStack(cfg *config.Config, metrics *monitoring.Metrics, logger *slog.Logger) (*Stack, error) {
	s := &Stack{
		cfg:     cfg,
		http:    fetch.NewHTTPClient(HTTPOptions(cfg)),
		metrics: metrics,
		logger:  logger,
	}

	if cfg.Browser.Enabled {
		b, err := browser.New(BrowserOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		s.browser = b
	}

	if cfg.Images.Enabled {
		s.imageOpts = &images.Options{
			Dir:     cfg.Images.Dir,
			Timeout: cfg.Images.Timeout,
			Headers: fetch.MergeHeaders(images.DefaultOptions().Headers, userAgentHeader(cfg)),
		}
	}

	return s, nil
}

// Fetcher returns the rendering browser when enabled, otherwise plain HTTP.
func (s *Stack) Fetcher() fetch.Fetcher {
	if s.browser != nil {
		return s.browser
	}
	return s.http
}

// NewAcquirer returns a fresh image acquirer, or nil when images are
// disabled. Its attempt memo lives as long as the acquirer.
func (s *Stack) NewAcquirer() *images.Acquirer {
	if s.imageOpts == nil {
		return nil
	}
	return images.NewAcquirer(s.http, s.imageOpts)
}

// NewCrawler builds a crawler for site with its own rate limiter and image
// acquirer, so one job's failed downloads never leak into the next.
func (s *Stack) NewCrawler(site *scraper.Site, sink scraper.Sink, maxPages int) (*scraper.Crawler, error) {
	return scraper.NewCrawler(site, s.Fetcher(), sink, scraper.Options{
		MaxPages:            maxPages,
		ImageConcurrency:    s.cfg.Images.Concurrency,
		ResolvePlaceholders: s.cfg.Scraper.ResolvePlaceholders,
		Headers:             userAgentHeader(s.cfg),
		Acquirer:            s.NewAcquirer(),
		Limiter:             ratelimit.NewAdaptiveRateLimiter(s.cfg.Scraper.RateLimitMin, s.cfg.Scraper.RateLimitMax),
		Metrics:             s.metrics,
		Logger:              s.logger,
	})
}

func (s *Stack) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// OpenDatabase connects and migrates when persistence is enabled; it returns
// nil otherwise.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}

	var (
		db  *database.DB
		err error
	)
	if cfg.Database.URL != "" {
		db, err = database.NewFromURL(ctx, cfg.Database.URL)
	} else {
		db, err = database.New(ctx, DatabaseConfig(cfg))
	}
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func HTTPOptions(cfg *config.Config) *fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = cfg.Scraper.RequestTimeout
	opts.MaxPerHost = int64(cfg.Scraper.MaxPerHost)
	opts.RequestsPerSec = cfg.Scraper.RequestsPerSec
	opts.Headers = fetch.MergeHeaders(opts.Headers, userAgentHeader(cfg))
	return opts
}

func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.MaxRetries = cfg.Browser.MaxRetries
	if cfg.Scraper.UserAgent != "" {
		opts.UserAgent = cfg.Scraper.UserAgent
	}
	return opts
}

func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	}
}

func userAgentHeader(cfg *config.Config) map[string]string {
	if cfg.Scraper.UserAgent == "" {
		return nil
	}
	return map[string]string{"User-Agent": cfg.Scraper.UserAgent}
}
