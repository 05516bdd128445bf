package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/listing-scraper/internal/app"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/storage"
	"github.com/maltedev/listing-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var (
		siteName = flag.String("site", cfg.Scraper.Site, "Site profile: "+strings.Join(scraper.SiteNames(), ", "))
		seedURLs = flag.String("url", cfg.Scraper.SeedURL, "Listing URL(s) to start from, comma separated (default: the site's listing)")
		maxPages = flag.Int("pages", cfg.Scraper.MaxPages, "Maximum pages per seed (0 = unlimited)")
		outPath  = flag.String("out", cfg.Output.Path, "Output file (.json, .jsonl or .csv)")
		imageDir = flag.String("images", cfg.Images.Dir, "Directory for downloaded images")
		noImages = flag.Bool("no-images", !cfg.Images.Enabled, "Skip image downloads")
		render   = flag.Bool("render", cfg.Browser.Enabled, "Render pages with a headless browser")
		persist  = flag.Bool("persist", cfg.Database.Enabled, "Also store products in PostgreSQL with outbox events")
		logLevel = flag.String("log-level", cfg.Logging.Level, "Log level: debug, info, warn, error")
	)
	flag.Parse()

	cfg.Scraper.Site = *siteName
	cfg.Scraper.MaxPages = *maxPages
	cfg.Output.Path = *outPath
	cfg.Images.Dir = *imageDir
	cfg.Images.Enabled = !*noImages
	cfg.Browser.Enabled = *render
	cfg.Database.Enabled = *persist
	cfg.Logging.Level = *logLevel

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, *seedURLs, log); err != nil {
		log.Error("crawl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, seedList string, log *slog.Logger) error {
	site, err := scraper.LookupSite(cfg.Scraper.Site)
	if err != nil {
		return err
	}

	seeds := splitSeeds(seedList)
	if len(seeds) == 0 {
		seeds = []string{site.SeedURL}
	}

	out, err := storage.Open(cfg.Output.Path)
	if err != nil {
		return err
	}
	var sink storage.Sink = out

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if db != nil {
		defer db.Close()
		sink = storage.NewMultiSink(out, database.NewProductSink(db, site.Name, cfg.Redis.Stream))
	}

	stack, err := app.NewStack(cfg, nil, log)
	if err != nil {
		sink.Close()
		return err
	}
	defer stack.Close()

	crawler, err := stack.NewCrawler(site, sink, cfg.Scraper.MaxPages)
	if err != nil {
		sink.Close()
		return err
	}

	log.Info("starting listing scraper",
		"site", site.Name,
		"seeds", len(seeds),
		"max_pages", cfg.Scraper.MaxPages,
		"output", cfg.Output.Path,
		"images", cfg.Images.Enabled,
		"render", cfg.Browser.Enabled,
	)

	reports, crawlErr := crawler.CrawlSeeds(ctx, seeds)

	if err := sink.Close(); err != nil {
		log.Error("failed to write output", "error", err)
	}

	for _, report := range reports {
		acquired, failed := report.TotalImages()
		log.Info("seed finished",
			"seed", report.SeedURL,
			"status", report.Status,
			"pages", report.PagesVisited,
			"products", report.TotalProducts(),
			"images_acquired", acquired,
			"images_failed", failed,
			"duration", report.Duration,
		)
	}

	if acq := crawler.Acquirer(); acq != nil {
		stats := acq.Stats()
		log.Info("images", "dir", acq.Dir(), "downloaded", stats.Downloaded, "reused", stats.Reused, "failed", stats.Failed)
	}

	return crawlErr
}

func splitSeeds(list string) []string {
	var seeds []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds
}
