package knowledge

import "time"

// Passage is one unit of retrievable company knowledge. Passages are small,
// self-contained chunks (typically one question/answer pair) so the pipeline
// can cite them individually.
type Passage struct {
	ID        string            // Unique identifier, stable across re-ingestion
	Content   string            // Passage text
	Metadata  map[string]string // Optional metadata (source, category, etc.)
	CreatedAt time.Time         // Creation timestamp
}

// Candidate is a passage returned from vector search with its score.
type Candidate struct {
	Passage    Passage
	Similarity float32 // Cosine similarity score (0-1)
}

// SearchOption configures search behavior using the functional options
// pattern (as in context.WithTimeout, grpc.Dial).
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	topK    int
	timeout time.Duration
}

// WithTopK sets the maximum number of candidates to return.
// Default is 10 if not specified.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithTimeout overrides the per-search timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// buildSearchConfig applies search options and returns the final configuration.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    10,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
