// Package rerank reorders retrieval candidates by query relevance using an
// external cross-encoder service. Reranking is optional: the pipeline treats
// any reranker failure as a signal to fall back to retrieval order.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/futuresys/introbot/internal/knowledge"
)

// Reranker reorders candidates by relevance to the query and returns at most
// topN of them, best first. Implementations must not modify candidate
// contents, only order and count.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []knowledge.Candidate, topN int) ([]knowledge.Candidate, error)
}

// HTTPReranker calls a rerank service speaking the common cross-encoder HTTP
// protocol (Jina, Cohere-compatible local servers): POST {base}/v1/rerank
// with query and documents, receiving indexed relevance scores.
type HTTPReranker struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Config configures an HTTPReranker.
type Config struct {
	BaseURL string        // required, e.g. "http://localhost:9547"
	Model   string        // rerank model identifier
	APIKey  string        // optional bearer token
	Timeout time.Duration // request timeout, default 30s
	Logger  *slog.Logger  // nil = slog.Default
}

// NewHTTP creates an HTTPReranker.
func NewHTTP(cfg Config) (*HTTPReranker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends the candidates to the rerank service and returns the topN most
// relevant ones, best first. Candidate passages are passed through untouched;
// only order and count change. Ties keep the input order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []knowledge.Candidate, topN int) ([]knowledge.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topN < 1 {
		topN = len(candidates)
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Passage.Content
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rerank: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank: service returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("rerank: decoding response: %w", err)
	}

	type scored struct {
		candidate knowledge.Candidate
		score     float64
		order     int
	}
	picked := make([]scored, 0, len(decoded.Results))
	for _, res := range decoded.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank: result index %d out of range (%d documents sent)", res.Index, len(candidates))
		}
		picked = append(picked, scored{
			candidate: candidates[res.Index],
			score:     res.RelevanceScore,
			order:     res.Index,
		})
	}

	// Servers usually return results sorted already; sort anyway and break
	// score ties by the original candidate order so output is deterministic.
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].score != picked[j].score {
			return picked[i].score > picked[j].score
		}
		return picked[i].order < picked[j].order
	})

	if len(picked) > topN {
		picked = picked[:topN]
	}

	out := make([]knowledge.Candidate, len(picked))
	for i, s := range picked {
		out[i] = s.candidate
	}

	r.logger.Debug("reranked candidates", "in", len(candidates), "out", len(out))
	return out, nil
}
