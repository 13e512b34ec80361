// Package pipeline resolves company questions end to end: it validates the
// question, retrieves candidate passages, optionally reranks them, assembles
// a grounded prompt, and generates an answer through Genkit.
//
// The pipeline is deliberately strict about its failure contract. Invalid
// input and retrieval failures surface as errors before any generation
// starts. Once generation begins, model failures degrade to a fixed apology
// instead of an error, so callers can always show the user something.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/futuresys/introbot/internal/knowledge"
	"github.com/futuresys/introbot/internal/rerank"
	"github.com/futuresys/introbot/internal/security"
)

var (
	// ErrInvalidInput indicates the question was rejected by validation.
	// The wrapped message is safe to show to end users.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetrievalFailed indicates the passage store could not be searched.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// ApologyMessage is returned (or streamed) when the model fails after
// validation and retrieval succeeded.
const ApologyMessage = "I apologize, but I ran into a problem while generating an answer. Please try again in a moment."

// Turn is one completed exchange in the conversation history.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Query is one question together with its conversation history. History is
// ordered oldest first; only the most recent turns are used (see
// Config.MaxHistoryTurns).
type Query struct {
	Question string `json:"question"`
	History  []Turn `json:"history,omitempty"`
}

// Retriever finds candidate passages for a query. Defined here by the
// consumer; *knowledge.Store satisfies it.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Candidate, error)
}

// Config contains all required parameters for the pipeline.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever Retriever
	Reranker  rerank.Reranker // optional: nil disables reranking
	Logger    *slog.Logger

	ModelName   string  // provider-qualified model name (e.g. "ollama/llama3.2")
	Temperature float32 // generation temperature, 0.0 to 1.0

	RetrieveK int // candidates fetched from the store (default 10)
	FinalK    int // passages kept for the prompt (default 3)

	MaxQuestionLength int // rune bound for questions (default 2000)
	MaxHistoryTurns   int // most recent turns included in the prompt (default 5)
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return fmt.Errorf("temperature %.2f out of range [0, 1]", cfg.Temperature)
	}
	return nil
}

// Pipeline answers company questions grounded in retrieved passages.
//
// All configuration is captured immutably at construction time, so a single
// Pipeline is safe for concurrent use.
type Pipeline struct {
	g         *genkit.Genkit
	retriever Retriever
	reranker  rerank.Reranker
	logger    *slog.Logger
	validator *security.QuestionValidator

	modelName       string
	temperature     float32
	retrieveK       int
	finalK          int
	maxHistoryTurns int
}

// New creates a Pipeline from the config. Zero counts fall back to defaults
// (RetrieveK 10, FinalK 3, MaxHistoryTurns 5).
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	retrieveK := cfg.RetrieveK
	if retrieveK <= 0 {
		retrieveK = 10
	}
	finalK := cfg.FinalK
	if finalK <= 0 {
		finalK = 3
	}
	if retrieveK < finalK {
		return nil, fmt.Errorf("invalid pipeline config: retrieveK %d below finalK %d", retrieveK, finalK)
	}
	maxTurns := cfg.MaxHistoryTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	return &Pipeline{
		g:               cfg.Genkit,
		retriever:       cfg.Retriever,
		reranker:        cfg.Reranker,
		logger:          cfg.Logger,
		validator:       security.NewQuestionValidator(cfg.MaxQuestionLength),
		modelName:       cfg.ModelName,
		temperature:     cfg.Temperature,
		retrieveK:       retrieveK,
		finalK:          finalK,
		maxHistoryTurns: maxTurns,
	}, nil
}

// Resolve answers the query and blocks until the full answer is available.
//
// Errors:
//   - ErrInvalidInput when the question fails validation
//   - ErrRetrievalFailed when the passage store cannot be searched
//
// Generation failures do not produce an error; the fixed ApologyMessage is
// returned instead.
func (p *Pipeline) Resolve(ctx context.Context, q Query) (string, error) {
	prompt, err := p.prepare(ctx, q)
	if err != nil {
		return "", err
	}

	resp, err := genkit.Generate(ctx, p.g, p.generateOptions(prompt)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Error("generation failed", "error", err)
		return ApologyMessage, nil
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		p.logger.Warn("model produced an empty response")
		return ApologyMessage, nil
	}
	return text, nil
}

// ResolveStream answers the query as a stream of text fragments.
// Concatenating all fragments of a successful stream yields the same answer
// Resolve would have returned. Validation and retrieval happen before this
// method returns, so their errors are never hidden inside the stream.
//
// The caller must drain the stream or call Close; abandoning it without
// Close leaks the generation until the passed context ends.
func (p *Pipeline) ResolveStream(ctx context.Context, q Query) (*Stream, error) {
	prompt, err := p.prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	return p.startStream(ctx, prompt), nil
}

// prepare runs the pre-generation stages: validation, retrieval, passage
// selection, prompt assembly.
func (p *Pipeline) prepare(ctx context.Context, q Query) (string, error) {
	if result := p.validator.Validate(q.Question); !result.Valid {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, result.Reason)
	}

	candidates, err := p.retriever.Search(ctx, q.Question, knowledge.WithTopK(p.retrieveK))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	selected := p.selectPassages(ctx, q.Question, candidates)

	history := q.History
	if len(history) > p.maxHistoryTurns {
		history = history[len(history)-p.maxHistoryTurns:]
	}

	return buildUserPrompt(q.Question, selected, history), nil
}

// selectPassages narrows the candidate set to finalK passages. With a
// reranker configured it reorders by cross-encoder relevance; any reranker
// error falls back to retrieval order so answering never depends on the
// rerank service being up.
func (p *Pipeline) selectPassages(ctx context.Context, question string, candidates []knowledge.Candidate) []knowledge.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	if p.reranker != nil {
		reranked, err := p.reranker.Rerank(ctx, question, candidates, p.finalK)
		if err == nil {
			// The topN bound is the reranker's contract, but the prompt
			// budget does not depend on a remote service honoring it.
			if len(reranked) > p.finalK {
				reranked = reranked[:p.finalK]
			}
			return reranked
		}
		p.logger.Warn("reranking failed, falling back to retrieval order", "error", err)
	}

	if len(candidates) > p.finalK {
		candidates = candidates[:p.finalK]
	}
	return candidates
}

// generateOptions builds the Genkit options shared by the blocking and
// streaming paths.
func (p *Pipeline) generateOptions(prompt string) []ai.GenerateOption {
	return []ai.GenerateOption{
		ai.WithModelName(p.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature: float64(p.temperature),
		}),
	}
}
