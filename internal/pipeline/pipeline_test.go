package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/futuresys/introbot/internal/knowledge"
	"github.com/futuresys/introbot/internal/log"
	"github.com/futuresys/introbot/internal/testutil"
)

// fakeRetriever returns canned candidates and records how it was called.
type fakeRetriever struct {
	candidates []knowledge.Candidate
	err        error
	calls      int
	lastQuery  string
}

func (r *fakeRetriever) Search(_ context.Context, query string, _ ...knowledge.SearchOption) ([]knowledge.Candidate, error) {
	r.calls++
	r.lastQuery = query
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

// fakeReranker reverses the candidates (so reranked order is observable) or
// fails when err is set. With overshoot set it ignores topN, modeling a
// misbehaving rerank service.
type fakeReranker struct {
	err       error
	overshoot bool
	calls     int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, cands []knowledge.Candidate, topN int) ([]knowledge.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]knowledge.Candidate, 0, len(cands))
	for i := len(cands) - 1; i >= 0; i-- {
		out = append(out, cands[i])
	}
	if !f.overshoot && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func passages(contents ...string) []knowledge.Candidate {
	out := make([]knowledge.Candidate, len(contents))
	for i, c := range contents {
		out[i] = knowledge.Candidate{
			Passage:    knowledge.Passage{ID: fmt.Sprintf("p%d", i), Content: c},
			Similarity: 1 - float32(i)*0.05,
		}
	}
	return out
}

// testPipeline wires a pipeline against the mock model and the given fakes.
func testPipeline(t *testing.T, retriever Retriever, reranker *fakeReranker, model *testutil.MockModel) *Pipeline {
	t.Helper()

	g := genkit.Init(context.Background())
	model.Register(g)

	cfg := Config{
		Genkit:    g,
		Retriever: retriever,
		Logger:    log.NewNop(),
		ModelName: testutil.MockModelName,
	}
	if reranker != nil {
		cfg.Reranker = reranker
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestResolveAnswersFromContext(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	model.AddResponse("what does the company do", "We build chatbots.")
	retriever := &fakeRetriever{candidates: passages("Company overview passage")}

	p := testPipeline(t, retriever, nil, model)

	answer, err := p.Resolve(context.Background(), Query{Question: "What does the company do?"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if answer != "We build chatbots." {
		t.Errorf("answer = %q", answer)
	}
	if retriever.calls != 1 {
		t.Errorf("retriever called %d times, want 1", retriever.calls)
	}
}

func TestResolveInvalidInputSkipsRetrieval(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	tests := []string{
		"",
		"   ",
		`<script>alert(1)</script>`,
		strings.Repeat("a", 3000),
	}

	for _, q := range tests {
		_, err := p.Resolve(context.Background(), Query{Question: q})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Resolve(%.20q) = %v, want ErrInvalidInput", q, err)
		}
	}

	if retriever.calls != 0 {
		t.Errorf("retriever called %d times for invalid input, want 0", retriever.calls)
	}
	if len(model.Calls()) != 0 {
		t.Errorf("model called %d times for invalid input, want 0", len(model.Calls()))
	}
}

func TestResolveRetrievalFailure(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	retriever := &fakeRetriever{err: errors.New("store is down")}

	p := testPipeline(t, retriever, nil, model)

	_, err := p.Resolve(context.Background(), Query{Question: "What does the company do?"})
	if !errors.Is(err, ErrRetrievalFailed) {
		t.Fatalf("Resolve() = %v, want ErrRetrievalFailed", err)
	}
	if len(model.Calls()) != 0 {
		t.Error("model must not be called when retrieval fails")
	}
}

func TestResolveGenerationFailureReturnsApology(t *testing.T) {
	model := testutil.NewMockModel("fallback")
	model.SetError(errors.New("model crashed"))
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	answer, err := p.Resolve(context.Background(), Query{Question: "What does the company do?"})
	if err != nil {
		t.Fatalf("Resolve() = %v, want nil (generation failures degrade to apology)", err)
	}
	if answer != ApologyMessage {
		t.Errorf("answer = %q, want apology", answer)
	}
}

func TestResolvePromptContainsNumberedPassages(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("first passage", "second passage", "third passage", "fourth passage")}

	p := testPipeline(t, retriever, nil, model)

	if _, err := p.Resolve(context.Background(), Query{Question: "What does the company do?"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	prompt := model.LastPrompt()
	for _, want := range []string{"[1] first passage", "[2] second passage", "[3] third passage"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Only finalK (3) passages make it into the prompt.
	if strings.Contains(prompt, "fourth passage") {
		t.Errorf("prompt contains passage beyond the final count:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Question: What does the company do?") {
		t.Errorf("prompt missing question:\n%s", prompt)
	}
}

func TestResolveEmptyContextRendersNoneToken(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{} // no candidates

	p := testPipeline(t, retriever, nil, model)

	if _, err := p.Resolve(context.Background(), Query{Question: "Anything?"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	prompt := model.LastPrompt()
	if !strings.Contains(prompt, "Reference context:\n(none)") {
		t.Errorf("empty context should render the none token:\n%s", prompt)
	}
}

func TestResolveHistoryIsBounded(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	var history []Turn
	for i := 1; i <= 10; i++ {
		history = append(history, Turn{
			User:      fmt.Sprintf("question number %d", i),
			Assistant: fmt.Sprintf("answer number %d", i),
		})
	}

	if _, err := p.Resolve(context.Background(), Query{Question: "Next?", History: history}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	prompt := model.LastPrompt()
	// Only the 5 most recent turns survive.
	for i := 6; i <= 10; i++ {
		if !strings.Contains(prompt, fmt.Sprintf("question number %d", i)) {
			t.Errorf("prompt missing recent turn %d:\n%s", i, prompt)
		}
	}
	for i := 1; i <= 5; i++ {
		if strings.Contains(prompt, fmt.Sprintf("question number %d\n", i)) {
			t.Errorf("prompt contains old turn %d:\n%s", i, prompt)
		}
	}
}

func TestResolveEmptyHistoryRendersNoneToken(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	if _, err := p.Resolve(context.Background(), Query{Question: "Anything?"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if !strings.Contains(model.LastPrompt(), "Conversation history:\n(none)") {
		t.Errorf("empty history should render the none token:\n%s", model.LastPrompt())
	}
}

func TestResolveUsesRerankedOrder(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("alpha", "beta", "gamma", "delta")}
	reranker := &fakeReranker{}

	p := testPipeline(t, retriever, reranker, model)

	if _, err := p.Resolve(context.Background(), Query{Question: "Which passage wins?"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if reranker.calls != 1 {
		t.Fatalf("reranker called %d times, want 1", reranker.calls)
	}

	// The fake reranker reverses, so the prompt leads with the last
	// retrieval candidate.
	prompt := model.LastPrompt()
	if !strings.Contains(prompt, "[1] delta") {
		t.Errorf("prompt should lead with reranked candidate:\n%s", prompt)
	}
	if strings.Contains(prompt, "alpha") {
		t.Errorf("prompt should hold only the top 3 reranked passages:\n%s", prompt)
	}
}

func TestResolveTruncatesOverlongRerankResult(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("alpha", "beta", "gamma", "delta", "epsilon")}
	reranker := &fakeReranker{overshoot: true}

	p := testPipeline(t, retriever, reranker, model)

	if _, err := p.Resolve(context.Background(), Query{Question: "Which passage wins?"}); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	// The fake reverses all five candidates; only the top three may reach
	// the prompt.
	prompt := model.LastPrompt()
	for _, want := range []string{"[1] epsilon", "[2] delta", "[3] gamma"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "[4]") || strings.Contains(prompt, "beta") {
		t.Errorf("prompt holds more passages than the configured maximum:\n%s", prompt)
	}
}

func TestResolveRerankerFailureFallsBackToRetrievalOrder(t *testing.T) {
	model := testutil.NewMockModel("ok")
	retriever := &fakeRetriever{candidates: passages("alpha", "beta", "gamma", "delta")}
	reranker := &fakeReranker{err: errors.New("rerank service down")}

	p := testPipeline(t, retriever, reranker, model)

	answer, err := p.Resolve(context.Background(), Query{Question: "Which passage wins?"})
	if err != nil {
		t.Fatalf("Resolve() = %v, want nil (reranker failure must not fail the query)", err)
	}
	if answer == "" {
		t.Fatal("empty answer")
	}

	prompt := model.LastPrompt()
	for i, want := range []string{"[1] alpha", "[2] beta", "[3] gamma"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("fallback order wrong at %d, missing %q:\n%s", i+1, want, prompt)
		}
	}
	if strings.Contains(prompt, "delta") {
		t.Errorf("fallback should keep only finalK passages:\n%s", prompt)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	g := genkit.Init(context.Background())
	retriever := &fakeRetriever{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing genkit", Config{Retriever: retriever, Logger: log.NewNop(), ModelName: "m"}},
		{"missing retriever", Config{Genkit: g, Logger: log.NewNop(), ModelName: "m"}},
		{"missing logger", Config{Genkit: g, Retriever: retriever, ModelName: "m"}},
		{"missing model", Config{Genkit: g, Retriever: retriever, Logger: log.NewNop()}},
		{"temperature out of range", Config{Genkit: g, Retriever: retriever, Logger: log.NewNop(), ModelName: "m", Temperature: 1.5}},
		{"retrieveK below finalK", Config{Genkit: g, Retriever: retriever, Logger: log.NewNop(), ModelName: "m", RetrieveK: 2, FinalK: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() = nil, want error")
			}
		})
	}
}
