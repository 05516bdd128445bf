package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Options struct {
	Timeout        time.Duration
	Headers        map[string]string
	MaxPerHost     int64
	RequestsPerSec float64
	MaxBodyBytes   int64
}

func DefaultOptions() *Options {
	return &Options{
		Timeout:        30 * time.Second,
		Headers:        DefaultHeaders(),
		MaxPerHost:     1,
		RequestsPerSec: 0,
		MaxBodyBytes:   32 << 20,
	}
}

// HTTPClient fetches over plain HTTP, capping in-flight requests and request
// rate per host.
type HTTPClient struct {
	client *http.Client
	opts   Options

	mu    sync.Mutex
	hosts map[string]*hostLimiter

	logger *slog.Logger
}

type hostLimiter struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewHTTPClient(opts *Options) *HTTPClient {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.MaxPerHost < 1 {
		o.MaxPerHost = 1
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	if o.Headers == nil {
		o.Headers = DefaultHeaders()
	}

	return &HTTPClient{
		client: &http.Client{Timeout: o.Timeout},
		opts:   o,
		hosts:  make(map[string]*hostLimiter),
		logger: slog.Default().With("component", "http_fetcher"),
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: errors.New("invalid url: missing host")}
	}

	host := c.hostLimiter(u.Host)
	if err := host.sem.Acquire(ctx, 1); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer host.sem.Release(1)

	if host.limiter != nil {
		if err := host.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	for k, v := range MergeHeaders(c.opts.Headers, headers) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Status: 0, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	c.logger.Debug("fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return &Response{
		Status:   resp.StatusCode,
		Body:     body,
		FinalURL: resp.Request.URL.String(),
	}, nil
}

func (c *HTTPClient) hostLimiter(host string) *hostLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.hosts[host]; ok {
		return l
	}

	l := &hostLimiter{sem: semaphore.NewWeighted(c.opts.MaxPerHost)}
	if c.opts.RequestsPerSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSec), 1)
	}
	c.hosts[host] = l
	return l
}
