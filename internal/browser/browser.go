package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/fetch"
	"github.com/playwright-community/playwright-go"
)

// Browser renders pages in headless Chromium. It satisfies fetch.Fetcher so
// sites that only fill their listings client-side can be crawled unchanged.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	MaxRetries     int
	ScrollSteps    int
	ScrollPause    time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      fetch.DefaultUserAgent,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
		TimezoneID:     "America/Sao_Paulo",
		Locale:         "pt-BR",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		MaxRetries:  3,
		ScrollSteps: 6,
		ScrollPause: 400 * time.Millisecond,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := fetch.MergeHeaders(opts.ExtraHeaders, map[string]string{"Accept-Language": opts.AcceptLanguage})

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Fetch renders url, scrolls through it so lazy images swap their
// placeholders, and returns the resulting markup.
func (b *Browser) Fetch(ctx context.Context, url string, headers map[string]string) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.FetchError{URL: url, Err: err}
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, &fetch.FetchError{URL: url, Err: err}
	}
	defer page.Close()

	if len(headers) > 0 {
		if err := page.SetExtraHTTPHeaders(headers); err != nil {
			return nil, &fetch.FetchError{URL: url, Err: fmt.Errorf("failed to set headers: %w", err)}
		}
	}

	status, err := b.NavigateWithRetry(ctx, page, url, b.opts.MaxRetries)
	if err != nil {
		return nil, &fetch.FetchError{URL: url, Err: err}
	}
	if status != 0 && (status < 200 || status > 299) {
		return nil, &fetch.FetchError{URL: url, Status: status, Err: fmt.Errorf("unexpected status %d", status)}
	}

	if err := b.ScrollToLoad(ctx, page); err != nil {
		b.logger.Warn("scroll failed", "url", url, "error", err)
	}

	content, err := page.Content()
	if err != nil {
		return nil, &fetch.FetchError{URL: url, Err: fmt.Errorf("failed to get page content: %w", err)}
	}

	if status == 0 {
		status = 200
	}

	return &fetch.Response{
		Status:   status,
		Body:     []byte(content),
		FinalURL: page.URL(),
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// NavigateWithRetry returns the HTTP status of the main document, or 0 when
// the browser did not report one.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) (int, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i+1)*time.Second); err != nil {
				return 0, err
			}
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})

		if err == nil {
			if resp == nil {
				return 0, nil
			}
			return resp.Status(), nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return 0, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// ScrollToLoad scrolls the page in steps to trigger lazy loading.
func (b *Browser) ScrollToLoad(ctx context.Context, page playwright.Page) error {
	for i := 0; i < b.opts.ScrollSteps; i++ {
		if _, err := page.Evaluate(`window.scrollBy(0, window.innerHeight)`); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := sleep(ctx, b.opts.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
