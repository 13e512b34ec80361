// Package ingest loads question/answer knowledge from CSV files into the
// passage store. Each data row becomes one passage whose ID is derived from
// the question text, so re-running an ingest updates passages in place
// instead of duplicating them.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/futuresys/introbot/internal/knowledge"
	"github.com/futuresys/introbot/internal/log"
)

// passageNamespace seeds deterministic passage IDs. Changing it orphans
// previously ingested rows, so treat it as fixed.
var passageNamespace = uuid.MustParse("7d2f1f6e-9b64-4c21-8f1a-3d5e0a9c4b7e")

// expectedHeader is the required first row of an ingest CSV.
var expectedHeader = []string{"question", "answer", "category"}

// Store is the subset of the passage store used during ingestion.
// Interfaces are defined by the consumer, so tests can supply a fake
// without touching Postgres.
type Store interface {
	Add(ctx context.Context, p knowledge.Passage) error
}

// Result summarizes a completed ingest run.
type Result struct {
	Added    int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Entry is one question/answer pair parsed from a CSV row.
type Entry struct {
	Question string
	Answer   string
	Category string
}

// Passage converts the entry into a storable passage. The content keeps the
// question alongside the answer so embeddings capture both phrasings.
func (e Entry) Passage(source string) knowledge.Passage {
	return knowledge.Passage{
		ID:      PassageID(e.Question),
		Content: fmt.Sprintf("Q: %s\nA: %s", e.Question, e.Answer),
		Metadata: map[string]string{
			"category": e.Category,
			"source":   source,
		},
	}
}

// PassageID returns the deterministic ID for a question. The question is
// normalized (trimmed, lowercased) first so cosmetic edits to a row do not
// create a second passage.
func PassageID(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	return uuid.NewSHA1(passageNamespace, []byte(normalized)).String()
}

// Ingester reads CSV knowledge files and writes passages to the store.
type Ingester struct {
	store  Store
	logger log.Logger
}

// New creates an Ingester. A nil logger falls back to the default.
func New(store Store, logger log.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, logger: logger}
}

// Run ingests every row of the CSV file at path. Malformed rows are skipped
// with a warning rather than aborting the run; store failures count as
// failed rows for the same reason. The returned Result reflects what
// actually happened even when err is non-nil.
func (in *Ingester) Run(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	result, err := in.ingest(ctx, f, filepath.Base(path))
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	in.logger.Info("ingest complete",
		"path", path,
		"added", result.Added,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

func (in *Ingester) ingest(ctx context.Context, r io.Reader, source string) (Result, error) {
	var result Result

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return result, fmt.Errorf("%s: file is empty", source)
	}
	if err != nil {
		return result, fmt.Errorf("%s: reading header: %w", source, err)
	}
	if err := validateHeader(header); err != nil {
		return result, fmt.Errorf("%s: %w", source, err)
	}

	for row := 2; ; row++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			in.logger.Warn("skipping malformed row", "source", source, "row", row, "error", err)
			continue
		}

		entry, ok := parseRecord(record)
		if !ok {
			result.Skipped++
			in.logger.Warn("skipping incomplete row", "source", source, "row", row)
			continue
		}

		if err := in.store.Add(ctx, entry.Passage(source)); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			in.logger.Warn("failed to store passage", "source", source, "row", row, "error", err)
			continue
		}
		result.Added++
	}

	return result, nil
}

// validateHeader checks the CSV header row. Column names are matched
// case-insensitively.
func validateHeader(header []string) error {
	if len(header) < len(expectedHeader) {
		return fmt.Errorf("header has %d columns, want %d (question,answer,category)", len(header), len(expectedHeader))
	}
	for i, want := range expectedHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("header column %d is %q, want %q", i+1, header[i], want)
		}
	}
	return nil
}

// parseRecord extracts an entry from a data row. Rows missing a question or
// answer are rejected; a missing category is tolerated.
func parseRecord(record []string) (Entry, bool) {
	if len(record) < 2 {
		return Entry{}, false
	}

	entry := Entry{
		Question: strings.TrimSpace(record[0]),
		Answer:   strings.TrimSpace(record[1]),
	}
	if len(record) > 2 {
		entry.Category = strings.TrimSpace(record[2])
	}
	if entry.Question == "" || entry.Answer == "" {
		return Entry{}, false
	}
	return entry, true
}
