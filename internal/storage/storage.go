package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maltedev/listing-scraper/internal/models"
)

var ErrSinkClosed = errors.New("sink is closed")

// Sink receives products in emission order.
type Sink interface {
	Emit(ctx context.Context, p *models.Product) error
	Close() error
}

// Open picks a file sink from the extension of path: .json, .jsonl or .csv.
func Open(path string) (Sink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJSONFileSink(path), nil
	case ".jsonl", ".ndjson":
		return NewJSONLinesSink(path)
	case ".csv":
		return NewCSVSink(path)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", path)
	}
}

// JSONFileSink collects products and writes them as one JSON array. The file
// is replaced atomically so readers never see a half-written array.
type JSONFileSink struct {
	mu       sync.Mutex
	products []*models.Product
	filename string
	closed   bool
}

func NewJSONFileSink(filename string) *JSONFileSink {
	return &JSONFileSink{
		products: make([]*models.Product, 0),
		filename: filename,
	}
}

func (s *JSONFileSink) Emit(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	s.products = append(s.products, p)
	return nil
}

// Flush writes everything collected so far.
func (s *JSONFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *JSONFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.save()
}

func (s *JSONFileSink) save() error {
	data, err := json.MarshalIndent(s.products, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filename)
}

// LoadJSONFile reads a file written by JSONFileSink.
func LoadJSONFile(filename string) ([]*models.Product, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var products []*models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return products, nil
}

// Collector keeps products in memory.
type Collector struct {
	mu       sync.RWMutex
	products []*models.Product
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(_ context.Context, p *models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = append(c.products, p)
	return nil
}

func (c *Collector) Close() error {
	return nil
}

func (c *Collector) Products() []*models.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Product, len(c.products))
	copy(out, c.products)
	return out
}

func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// MultiSink emits to every sink; one failing sink does not skip the others.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(ctx context.Context, p *models.Product) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
