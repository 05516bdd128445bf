package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/fetch"
	"github.com/maltedev/listing-scraper/internal/images"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/monitoring"
	"github.com/maltedev/listing-scraper/internal/parser"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
)

// Secondary product-page lookups never follow further than one hop.
const maxDetailDepth = 1

type Options struct {
	// MaxPages bounds the pages visited per seed; zero means unbounded.
	MaxPages            int
	ImageConcurrency    int
	ResolvePlaceholders bool
	Headers             map[string]string

	// Acquirer downloads images; nil leaves image paths empty.
	Acquirer *images.Acquirer
	Limiter  ratelimit.RateLimiter
	Metrics  *monitoring.Metrics
	Querier  parser.Querier
	Logger   *slog.Logger
}

// Crawler walks the paginated listing of one site.
type Crawler struct {
	site      *Site
	fetcher   fetch.Fetcher
	sink      Sink
	opts      Options
	extractor *parser.FieldExtractor
	patterns  *parser.PatternMatcher
	resolver  *parser.Resolver
	querier   parser.Querier
	logger    *slog.Logger
}

func NewCrawler(site *Site, fetcher fetch.Fetcher, sink Sink, opts Options) (*Crawler, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if opts.ImageConcurrency < 1 {
		opts.ImageConcurrency = 4
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewSimpleRateLimiter(2*time.Second, 4*time.Second)
	}
	if opts.Querier == nil {
		opts.Querier = parser.DOMQuerier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	headers := fetch.MergeHeaders(fetch.DefaultHeaders(), site.Headers)
	opts.Headers = fetch.MergeHeaders(headers, opts.Headers)

	resolverOpts := []parser.ResolverOption{parser.WithQuerier(opts.Querier)}
	if site.OffsetMarker != "" {
		resolverOpts = append(resolverOpts, parser.WithOffsetMarker(site.OffsetMarker))
	}

	return &Crawler{
		site:    site,
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		extractor: parser.NewFieldExtractor(opts.Querier, site.Fields, parser.ProductOptions{
			CurrencyMarker: site.CurrencyMarker,
			KnownBrands:    site.KnownBrands,
		}),
		patterns: parser.NewPatternMatcher(),
		resolver: parser.NewResolver(resolverOpts...),
		querier:  opts.Querier,
		logger:   opts.Logger.With("component", "crawler", "site", site.Name),
	}, nil
}

// Acquirer returns the crawler's image acquirer, nil when images are off.
func (c *Crawler) Acquirer() *images.Acquirer {
	return c.opts.Acquirer
}

// crawlRun is the state of one seed's crawl. Nothing in it outlives Crawl.
type crawlRun struct {
	state        State
	current      string
	pagesVisited int
	maxPages     int
	visited      map[string]bool

	doc       *parser.Document
	products  []*models.Product
	extracted int
	// cardImages holds, per product, a real image found on its own card
	// when the first image strategy returned a placeholder.
	cardImages []string
	jobs      []images.Job
	page      *models.PageStats
	pages     []*models.PageStats

	report  *models.CrawlReport
	err     error
	batches chan batch
}

// batch is one page's products waiting for their images before emission.
type batch struct {
	products []*models.Product
	jobs     []images.Job
	stats    *models.PageStats
}

// Crawl runs the listing crawl from seed until pagination ends, the page
// bound is reached, a page fetch fails or ctx is cancelled. The report is
// always returned; the error is non-nil only when the seed page failed.
func (c *Crawler) Crawl(ctx context.Context, seed string) (*models.CrawlReport, error) {
	run := &crawlRun{
		state:    StateStart,
		current:  seed,
		maxPages: c.opts.MaxPages,
		visited:  make(map[string]bool),
		report: &models.CrawlReport{
			Site:      c.site.Name,
			SeedURL:   seed,
			Status:    models.CrawlCompleted,
			StartedAt: time.Now(),
		},
		batches: make(chan batch, 1),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.emitBatches(ctx, run.batches)
	}()

	c.logger.Info("starting crawl", "seed", seed, "max_pages", run.maxPages)

	for run.state != StateDone {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("crawl cancelled", "state", run.state.String(), "pages", run.pagesVisited)
			run.report.Status = models.CrawlCancelled
			run.report.Error = err.Error()
			break
		}

		switch run.state {
		case StateStart:
			run.state = StateFetchingPage
		case StateFetchingPage:
			c.fetchPage(ctx, run)
		case StateExtractingProducts:
			c.extractProducts(run)
		case StateResolvingImages:
			c.resolveImages(ctx, run)
		case StateEmitting:
			c.emit(run)
		case StateDiscoveringNextPage:
			c.discoverNextPage(run)
		}
	}

	close(run.batches)
	wg.Wait()

	run.report.PagesVisited = run.pagesVisited
	run.report.Duration = time.Since(run.report.StartedAt)
	for _, p := range run.pages {
		run.report.Pages = append(run.report.Pages, *p)
	}

	acquired, failed := run.report.TotalImages()
	c.logger.Info("crawl finished",
		"status", run.report.Status,
		"pages", run.report.PagesVisited,
		"products", run.report.TotalProducts(),
		"images_acquired", acquired,
		"images_failed", failed,
		"duration", run.report.Duration,
	)

	return run.report, run.err
}

func (c *Crawler) fetchPage(ctx context.Context, run *crawlRun) {
	doc, err := c.fetchDocument(ctx, run.current)
	if err != nil {
		c.opts.Metrics.IncErrors(c.site.Name, "fetch_failed")
		run.report.Error = err.Error()
		run.state = StateDone

		if ctx.Err() != nil {
			run.report.Status = models.CrawlCancelled
			return
		}

		if run.pagesVisited == 0 {
			c.logger.Error("seed fetch failed", "url", run.current, "error", err)
			run.report.Status = models.CrawlFailed
			run.err = fmt.Errorf("%w: %w", ErrSeedFetch, err)
			return
		}

		c.logger.Warn("page fetch failed, stopping pagination", "url", run.current, "page", run.pagesVisited+1, "error", err)
		run.report.Status = models.CrawlPartial
		return
	}

	run.visited[run.current] = true
	run.visited[doc.URL] = true
	run.doc = doc
	run.state = StateExtractingProducts
}

// fetchDocument applies the politeness delay, fetches and parses one page.
func (c *Crawler) fetchDocument(ctx context.Context, url string) (*parser.Document, error) {
	if err := c.opts.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.fetcher.Fetch(ctx, url, c.opts.Headers)
	feedback, adaptive := c.opts.Limiter.(ratelimit.Feedback)
	if err != nil {
		if adaptive {
			feedback.RecordError()
		}
		return nil, fmt.Errorf("%w: %w", ErrPageFetch, err)
	}
	if adaptive {
		feedback.RecordSuccess()
	}

	final := resp.FinalURL
	if final == "" {
		final = url
	}
	return parser.NewDocument(final, resp.Status, resp.Body)
}

func (c *Crawler) extractProducts(run *crawlRun) {
	pageNumber := run.pagesVisited + 1
	doc := run.doc

	var (
		products   []*models.Product
		cardImages []string
	)
	elements := doc.Elements(c.site.ProductSelector)
	for _, el := range elements {
		p := models.NewProduct(doc.URL, pageNumber, c.site.Category)
		c.extractor.Fill(el, p)
		if p.IsEmpty() {
			continue
		}
		lazy := ""
		if parser.ClassifyImage(p.ImageURL).Kind == parser.ImageDataURI {
			lazy = c.extractor.RealImage(el)
		}
		products = append(products, p)
		cardImages = append(cardImages, lazy)
	}

	method := "dom"
	if len(products) == 0 && c.site.UsePatterns {
		method = "pattern"
		products = c.patterns.Match(doc, pageNumber, c.site.Category)
		cardImages = make([]string, len(products))
		for _, p := range products {
			if p.Brand == "" {
				p.Brand = parser.MatchKnownBrand(p.Title, c.site.KnownBrands)
			}
		}
	}

	run.pagesVisited++
	run.products = products
	run.cardImages = cardImages
	run.extracted = len(products)
	run.page = &models.PageStats{Page: pageNumber, URL: doc.URL}
	run.pages = append(run.pages, run.page)

	c.opts.Metrics.IncPages(c.site.Name)
	c.logger.Info("found products on page",
		"page", pageNumber,
		"count", len(products),
		"candidates", len(elements),
		"method", method,
	)

	run.state = StateResolvingImages
}

func (c *Crawler) resolveImages(ctx context.Context, run *crawlRun) {
	run.jobs = nil

	for i, p := range run.products {
		ref := parser.ClassifyImage(p.ImageURL)
		p.IsBase64 = ref.Kind == parser.ImageDataURI

		if ref.Kind == parser.ImageDataURI && i < len(run.cardImages) && run.cardImages[i] != "" {
			ref = parser.ClassifyImage(run.cardImages[i])
		}
		ref = c.resolveImage(ctx, ref, p.ProductLink, 0)
		if ref.Kind != parser.ImageRealURL {
			continue
		}

		resolved, err := parser.ResolveURL(run.doc.URL, ref.Value)
		if err != nil {
			c.logger.Debug("unusable image url", "url", ref.Value, "error", err)
			continue
		}
		p.ResolvedImageURL = parser.CleanImageURL(resolved)

		if c.opts.Acquirer != nil {
			run.jobs = append(run.jobs, images.Job{Index: i, URL: p.ResolvedImageURL, Title: p.Title})
		}
	}

	run.state = StateEmitting
}

// resolveImage replaces an inline image by the real one from the product's
// own page. The lookup recurses at most maxDetailDepth times.
func (c *Crawler) resolveImage(ctx context.Context, ref parser.ImageRef, detailURL string, depth int) parser.ImageRef {
	if ref.Kind != parser.ImageDataURI || !c.opts.ResolvePlaceholders {
		return ref
	}
	if detailURL == "" || depth >= maxDetailDepth || len(c.site.DetailImage) == 0 {
		return ref
	}

	doc, err := c.fetchDocument(ctx, detailURL)
	if err != nil {
		c.opts.Metrics.IncErrors(c.site.Name, "detail_fetch_failed")
		c.logger.Warn("detail page fetch failed", "url", detailURL, "error", err)
		return ref
	}

	found, ok := c.site.DetailImage.Extract(c.querier, doc.Root, parser.IsRealImage)
	if !ok {
		c.logger.Debug("no image on detail page", "url", detailURL)
		return ref
	}

	if abs, err := parser.ResolveURL(doc.URL, found); err == nil {
		found = abs
	}
	return c.resolveImage(ctx, parser.ClassifyImage(found), detailURL, depth+1)
}

// emit hands the page to the emitter; its images download while the crawl
// moves on to the next page.
func (c *Crawler) emit(run *crawlRun) {
	run.batches <- batch{products: run.products, jobs: run.jobs, stats: run.page}

	run.products = nil
	run.cardImages = nil
	run.jobs = nil
	run.state = StateDiscoveringNextPage
}

func (c *Crawler) emitBatches(ctx context.Context, batches <-chan batch) {
	emitCtx := context.WithoutCancel(ctx)

	for b := range batches {
		if c.opts.Acquirer != nil && len(b.jobs) > 0 {
			for _, r := range c.opts.Acquirer.AcquireAll(ctx, b.jobs, c.opts.ImageConcurrency) {
				if r.Err != nil {
					b.stats.ImagesFailed++
					c.opts.Metrics.IncImages(c.site.Name, false)
					continue
				}
				b.products[r.Index].ImagePath = r.Path
				b.stats.ImagesAcquired++
				c.opts.Metrics.IncImages(c.site.Name, true)
			}
		}

		for _, p := range b.products {
			if err := c.sink.Emit(emitCtx, p); err != nil {
				c.opts.Metrics.IncErrors(c.site.Name, "sink_failed")
				c.logger.Error("failed to emit product", "title", p.Title, "error", err)
				continue
			}
			b.stats.Products++
			c.opts.Metrics.IncProducts(c.site.Name)
		}
	}
}

func (c *Crawler) discoverNextPage(run *crawlRun) {
	var next parser.Resolution
	found := false

	switch c.site.Pagination {
	case PaginationNumeric:
		if run.extracted == 0 {
			c.logger.Info("empty page, stopping numeric pagination", "page", run.pagesVisited)
			break
		}
		next = parser.Resolution{URL: parser.NextNumericPage(run.current, c.site.PageParam), Method: parser.PaginationNumeric}
		found = true
	default:
		next, found = c.resolver.Next(run.doc)
	}

	run.doc = nil

	if !found {
		c.logger.Info("no more pages found", "page", run.pagesVisited)
		run.state = StateDone
		return
	}

	run.page.PaginationMethod = next.Method.String()
	c.opts.Metrics.IncPagination(c.site.Name, next.Method.String())
	c.logger.Info("next page discovered",
		"page", run.pagesVisited,
		"strategy", int(next.Method),
		"method", next.Method.String(),
		"url", next.URL,
	)

	if run.maxPages > 0 && run.pagesVisited >= run.maxPages {
		c.logger.Info("page limit reached", "max_pages", run.maxPages)
		run.state = StateDone
		return
	}

	if run.visited[next.URL] {
		c.logger.Warn("next page already visited, stopping", "url", next.URL)
		run.state = StateDone
		return
	}

	run.current = next.URL
	run.state = StateFetchingPage
}

// CrawlSeeds crawls each seed in turn. A failing seed does not stop the others.
func (c *Crawler) CrawlSeeds(ctx context.Context, seeds []string) ([]*models.CrawlReport, error) {
	var (
		reports []*models.CrawlReport
		errs    []error
	)

	for _, seed := range seeds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := c.Crawl(ctx, seed)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", seed, err))
		}
	}

	return reports, errors.Join(errs...)
}
