package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/listing-scraper/internal/fetch"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrDownload        = errors.New("image download failed")
	ErrNotDownloadable = errors.New("image reference is not a downloadable url")
)

type Options struct {
	Dir     string
	Timeout time.Duration
	Headers map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Dir:     "images",
		Timeout: 30 * time.Second,
		Headers: map[string]string{"User-Agent": fetch.DefaultUserAgent},
	}
}

type Stats struct {
	Downloaded int64
	Reused     int64
	Failed     int64
}

// Acquirer downloads images into a directory under deterministic names.
// Each file name is attempted at most once per Acquirer; repeated calls
// return the first outcome. Build one Acquirer per crawl run.
type Acquirer struct {
	fetcher fetch.Fetcher
	opts    Options

	group    singleflight.Group
	mu       sync.Mutex
	attempts map[string]attempt

	downloaded atomic.Int64
	reused     atomic.Int64
	failed     atomic.Int64

	logger *slog.Logger
}

type attempt struct {
	path string
	err  error
}

func NewAcquirer(fetcher fetch.Fetcher, opts *Options) *Acquirer {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Dir == "" {
		o.Dir = DefaultOptions().Dir
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOptions().Timeout
	}
	if o.Headers == nil {
		o.Headers = DefaultOptions().Headers
	}

	return &Acquirer{
		fetcher:  fetcher,
		opts:     o,
		attempts: make(map[string]attempt),
		logger:   slog.Default().With("component", "image_acquirer"),
	}
}

func (a *Acquirer) Dir() string {
	return a.opts.Dir
}

// Path returns where Acquire stores the image for (url, title).
func (a *Acquirer) Path(rawURL, title string) string {
	return filepath.Join(a.opts.Dir, FileName(rawURL, title))
}

// Acquire returns the local path of the image, downloading it only when the
// file does not exist yet. Failures are returned, never retried in this run,
// unless ctx was done before the download finished.
func (a *Acquirer) Acquire(ctx context.Context, rawURL, title string) (string, error) {
	if rawURL == "" {
		return "", ErrNotDownloadable
	}

	target := a.Path(rawURL, title)
	if prev, ok := a.remembered(target); ok {
		return prev.path, prev.err
	}

	v, _, _ := a.group.Do(target, func() (any, error) {
		if prev, ok := a.remembered(target); ok {
			return prev, nil
		}

		path, err := a.acquire(ctx, rawURL, target)
		result := attempt{path: path, err: err}

		if err == nil || ctx.Err() == nil {
			a.mu.Lock()
			a.attempts[target] = result
			a.mu.Unlock()
		}
		return result, nil
	})

	result := v.(attempt)
	return result.path, result.err
}

// remembered returns the earlier outcome for target. A remembered success
// whose file has since disappeared is forgotten so the image is fetched again.
func (a *Acquirer) remembered(target string) (attempt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.attempts[target]
	if !ok {
		return attempt{}, false
	}
	if prev.err == nil {
		if _, err := os.Stat(prev.path); err != nil {
			delete(a.attempts, target)
			return attempt{}, false
		}
	}
	return prev, true
}

func (a *Acquirer) acquire(ctx context.Context, rawURL, target string) (string, error) {
	if _, err := os.Stat(target); err == nil {
		a.reused.Add(1)
		a.logger.Debug("image already present", "path", target)
		return target, nil
	}

	if err := os.MkdirAll(a.opts.Dir, 0o755); err != nil {
		a.failed.Add(1)
		return "", fmt.Errorf("%w: failed to create %s: %v", ErrDownload, a.opts.Dir, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	resp, err := a.fetcher.Fetch(fetchCtx, rawURL, a.opts.Headers)
	if err != nil {
		a.failed.Add(1)
		a.logger.Warn("image download failed", "url", rawURL, "error", err)
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if err := writeFileAtomic(target, resp.Body); err != nil {
		a.failed.Add(1)
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	a.downloaded.Add(1)
	a.logger.Debug("image saved", "url", rawURL, "path", target, "bytes", len(resp.Body))
	return target, nil
}

func (a *Acquirer) Stats() Stats {
	return Stats{
		Downloaded: a.downloaded.Load(),
		Reused:     a.reused.Load(),
		Failed:     a.failed.Load(),
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close image: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename image: %w", err)
	}
	return nil
}

// Job is one image to acquire; Index ties the result back to its product.
type Job struct {
	Index int
	URL   string
	Title string
}

type Result struct {
	Index int
	Path  string
	Err   error
}

// AcquireAll runs jobs with at most limit downloads in flight. Results keep
// the order of jobs.
func (a *Acquirer) AcquireAll(ctx context.Context, jobs []Job, limit int) []Result {
	results := make([]Result, len(jobs))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, job := range jobs {
		g.Go(func() error {
			path, err := a.Acquire(ctx, job.URL, job.Title)
			results[i] = Result{Index: job.Index, Path: path, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}
