// Package ingestion imports FAQ rows into the knowledge store. Rows come
// from CSV, either a local file or an HTTP(S) URL such as a spreadsheet's
// CSV export, and replace one named source atomically.
// This pipeline is invoked by the `tscbot import` CLI command.
package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/knowledge"
)

// ErrNoQuestionColumn is returned when the CSV header has no question column.
var ErrNoQuestionColumn = errors.New("ingestion: no question column in header")

// Header aliases, matched case-insensitively after trimming.
var (
	categoryHeaders = []string{"問題分類", "分類", "category"}
	questionHeaders = []string{"問題描述", "問題", "question"}
	answerHeaders   = []string{"解決方式", "解答", "答案", "answer"}
)

// Replacer is the part of the knowledge store the pipeline writes to.
type Replacer interface {
	// ReplaceSource replaces every record of source with recs.
	ReplaceSource(ctx context.Context, source string, recs []knowledge.Record) (int, error)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// HTTPTimeout is the timeout for each remote fetch. Defaults to 30s.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the fetch → parse → replace flow.
type Pipeline struct {
	// store receives the parsed records.
	store Replacer

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is used for remote locations.
	httpClient *http.Client
}

// Result summarises one import.
type Result struct {
	Source   string
	Location string
	Rows     int
	Skipped  int
}

// NewPipeline constructs a Pipeline writing to store.
func NewPipeline(store Replacer, cfg *Config) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tscbot/1.0 (faq import)"
	}

	return &Pipeline{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Import reads CSV rows from location (file path or URL) and replaces the
// records of source with them. An empty source is inferred from location.
func (p *Pipeline) Import(ctx context.Context, source, location string) (*Result, error) {
	if source == "" {
		source = InferSourceName(location)
	}

	body, err := p.open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", location, err)
	}
	defer body.Close()

	recs, skipped, err := ParseCSV(body)
	if err != nil {
		return nil, fmt.Errorf("ingestion: parse %s: %w", location, err)
	}

	n, err := p.store.ReplaceSource(ctx, source, recs)
	if err != nil {
		return nil, fmt.Errorf("ingestion: store %s: %w", source, err)
	}

	return &Result{Source: source, Location: location, Rows: n, Skipped: skipped}, nil
}

// open returns a reader for a local file or remote URL.
func (p *Pipeline) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !isRemote(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/csv, text/plain")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ParseCSV reads a header row followed by data rows. Rows without a
// question are skipped and counted; the record order follows the file.
func ParseCSV(r io.Reader) ([]knowledge.Record, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	catIdx := columnIndex(header, categoryHeaders)
	qIdx := columnIndex(header, questionHeaders)
	aIdx := columnIndex(header, answerHeaders)
	if qIdx < 0 {
		return nil, 0, ErrNoQuestionColumn
	}

	var (
		recs    []knowledge.Record
		skipped int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}

		rec := knowledge.Record{
			Category: cell(row, catIdx),
			Question: cell(row, qIdx),
			Answer:   cell(row, aIdx),
		}
		if rec.Question == "" {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped, nil
}

// columnIndex returns the first header position matching any alias, or -1.
func columnIndex(header, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
