// Package knowledge stores company passages in PostgreSQL with pgvector and
// retrieves them by embedding similarity.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// Querier is the subset of pgxpool.Pool the store uses. Defined by the
// consumer (like http.RoundTripper, io.Reader) so tests can substitute a
// fake without a live database.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	upsertPassageSQL = `
		INSERT INTO passages (id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`

	// Ties on distance are broken by id so result order is deterministic.
	searchPassagesSQL = `
		SELECT id, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM passages
		ORDER BY embedding <=> $1, id
		LIMIT $2`

	countPassagesSQL = `SELECT COUNT(*) FROM passages`
	deletePassageSQL = `DELETE FROM passages WHERE id = $1`
)

// Store manages knowledge passages with vector search. It embeds passage and
// query text through the configured embedder and searches PostgreSQL via
// pgvector cosine distance.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a new Store.
//
// Parameters:
//   - db: database access, usually a *pgxpool.Pool
//   - embedder: embedder for generating vectors
//   - logger: logger for debugging (nil = slog.Default)
func New(db Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
}

// Add inserts or updates a passage. The content is embedded before writing;
// re-adding an existing ID replaces content and embedding.
func (s *Store) Add(ctx context.Context, p Passage) error {
	vec, err := s.embedText(ctx, p.Content)
	if err != nil {
		return fmt.Errorf("embedding passage %q: %w", p.ID, err)
	}

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for passage %q: %w", p.ID, err)
	}

	createdAt := pgtype.Timestamptz{
		Time:  p.CreatedAt,
		Valid: !p.CreatedAt.IsZero(),
	}
	if !createdAt.Valid {
		createdAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}

	embedding := pgvector.NewVector(vec)
	if _, err := s.db.Exec(ctx, upsertPassageSQL, p.ID, p.Content, embedding, metadataJSON, createdAt); err != nil {
		return fmt.Errorf("upserting passage %q: %w", p.ID, err)
	}

	s.logger.Debug("added passage", "id", p.ID, "content_length", len(p.Content))
	return nil
}

// Search embeds the query and returns the most similar passages ordered by
// descending similarity. A per-search timeout (default 10s) keeps slow vector
// scans from blocking callers.
//
// Example:
//
//	cands, err := store.Search(ctx, "what does the company do",
//	    knowledge.WithTopK(10))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Candidate, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec, err := s.embedText(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.db.Query(queryCtx, searchPassagesSQL, pgvector.NewVector(vec), cfg.topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("searching passages: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			p            Passage
			metadataJSON []byte
			createdAt    pgtype.Timestamptz
			similarity   float64
		)
		if err := rows.Scan(&p.ID, &p.Content, &metadataJSON, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
				s.logger.Warn("failed to parse passage metadata", "passage_id", p.ID, "error", err)
				p.Metadata = map[string]string{}
			}
		}
		if createdAt.Valid {
			p.CreatedAt = createdAt.Time
		}

		candidates = append(candidates, Candidate{Passage: p, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("searched passages", "query_length", len(query), "results", len(candidates))
	return candidates, nil
}

// Count returns the total number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.QueryRow(ctx, countPassagesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}

	// Overflow protection for 32-bit platforms.
	if count > math.MaxInt {
		return 0, fmt.Errorf("passage count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a passage by ID. Deleting an absent ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, deletePassageSQL, id); err != nil {
		return fmt.Errorf("deleting passage %q: %w", id, err)
	}

	s.logger.Debug("deleted passage", "id", id)
	return nil
}

// embedText runs the embedder on one text and returns its vector.
func (s *Store) embedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("embedder returned an empty embedding")
	}
	return resp.Embeddings[0].Embedding, nil
}
