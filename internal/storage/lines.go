package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/maltedev/listing-scraper/internal/models"
)

// JSONLinesSink appends one JSON object per product.
type JSONLinesSink struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

func NewJSONLinesSink(filename string) (*JSONLinesSink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filename, err)
	}
	buf := bufio.NewWriter(f)
	return &JSONLinesSink{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *JSONLinesSink) Emit(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := s.enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}
	return s.buf.Flush()
}

func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

var csvHeader = []string{
	"title", "price", "brand", "description", "image_url", "real_image_url",
	"image_path", "is_base64", "product_link", "page_number", "source_url", "category",
}

// CSVSink writes the tabular export with a header row.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	closed bool
}

func NewCSVSink(filename string) (*CSVSink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filename, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	w.Flush()

	return &CSVSink{file: f, w: w}, nil
}

func (s *CSVSink) Emit(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	record := []string{
		p.Title,
		p.Price,
		p.Brand,
		p.Description,
		p.ImageURL,
		p.ResolvedImageURL,
		p.ImagePath,
		strconv.FormatBool(p.IsBase64),
		p.ProductLink,
		strconv.Itoa(p.PageNumber),
		p.SourceURL,
		p.Category,
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
