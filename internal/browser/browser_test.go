package browser

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/listing-scraper/internal/fetch"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.UserAgent != fetch.DefaultUserAgent {
		t.Errorf("Expected default user agent, got %s", opts.UserAgent)
	}

	if opts.Locale != "pt-BR" {
		t.Errorf("Expected locale to be pt-BR, got %s", opts.Locale)
	}

	if opts.MaxRetries < 1 {
		t.Errorf("Expected at least one navigation attempt, got %d", opts.MaxRetries)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleep(ctx, time.Minute); err == nil {
		t.Error("Expected cancelled context to abort sleep")
	}
	if time.Since(start) > time.Second {
		t.Error("Expected sleep to return immediately")
	}
}

var _ fetch.Fetcher = (*Browser)(nil)
