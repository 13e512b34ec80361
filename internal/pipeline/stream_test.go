package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/futuresys/introbot/internal/testutil"
)

// goleakOptions ignores goroutines owned by shared infrastructure (Genkit
// registry, HTTP transport pools) that outlive individual tests.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
		goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"),
	}
}

func TestResolveStreamMatchesBlockingAnswer(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("fallback")
	model.AddResponse("company", "We build grounded chatbots for customer teams.")
	retriever := &fakeRetriever{candidates: passages("Company overview")}

	p := testPipeline(t, retriever, nil, model)

	q := Query{Question: "What does the company do?"}

	blocking, err := p.Resolve(context.Background(), q)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	stream, err := p.ResolveStream(context.Background(), q)
	if err != nil {
		t.Fatalf("ResolveStream() error: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	var sb strings.Builder
	fragments := 0
	for stream.Next() {
		sb.WriteString(stream.Text())
		fragments++
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream.Err() = %v", err)
	}

	if sb.String() != blocking {
		t.Errorf("stream concat = %q, blocking = %q", sb.String(), blocking)
	}
	if fragments < 2 {
		t.Errorf("expected several fragments, got %d", fragments)
	}
}

func TestResolveStreamValidationErrorBeforeFragments(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("fallback")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	stream, err := p.ResolveStream(context.Background(), Query{Question: ""})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ResolveStream() = %v, want ErrInvalidInput", err)
	}
	if stream != nil {
		t.Error("stream must be nil on validation failure")
	}
}

func TestResolveStreamRetrievalErrorBeforeFragments(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("fallback")
	retriever := &fakeRetriever{err: errors.New("down")}

	p := testPipeline(t, retriever, nil, model)

	if _, err := p.ResolveStream(context.Background(), Query{Question: "Hi there?"}); !errors.Is(err, ErrRetrievalFailed) {
		t.Fatalf("ResolveStream() = %v, want ErrRetrievalFailed", err)
	}
}

func TestResolveStreamGenerationFailureYieldsApology(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("fallback")
	model.SetError(errors.New("model crashed"))
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	stream, err := p.ResolveStream(context.Background(), Query{Question: "What does the company do?"})
	if err != nil {
		t.Fatalf("ResolveStream() error: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	var fragments []string
	for stream.Next() {
		fragments = append(fragments, stream.Text())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream.Err() = %v, want nil (failure degrades to apology)", err)
	}

	if len(fragments) != 1 || fragments[0] != ApologyMessage {
		t.Errorf("fragments = %q, want single apology", fragments)
	}
}

func TestResolveStreamEmptyResponseYieldsApology(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tests := []struct {
		name     string
		response string
	}{
		{name: "no output", response: ""},
		{name: "whitespace only", response: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := testutil.NewMockModel(tt.response)
			retriever := &fakeRetriever{candidates: passages("x")}

			p := testPipeline(t, retriever, nil, model)

			q := Query{Question: "What does the company do?"}

			blocking, err := p.Resolve(context.Background(), q)
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}

			stream, err := p.ResolveStream(context.Background(), q)
			if err != nil {
				t.Fatalf("ResolveStream() error: %v", err)
			}
			defer func() {
				_ = stream.Close()
			}()

			var fragments []string
			for stream.Next() {
				fragments = append(fragments, stream.Text())
			}
			if err := stream.Err(); err != nil {
				t.Fatalf("stream.Err() = %v", err)
			}

			if len(fragments) != 1 || fragments[0] != ApologyMessage {
				t.Errorf("fragments = %q, want single apology", fragments)
			}
			if strings.Join(fragments, "") != blocking {
				t.Errorf("stream concat = %q, blocking = %q", strings.Join(fragments, ""), blocking)
			}
		})
	}
}

func TestStreamCloseAbortsGeneration(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("fallback")
	model.AddResponse("company", "one two three four five six seven eight nine ten")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	stream, err := p.ResolveStream(context.Background(), Query{Question: "Tell me about the company"})
	if err != nil {
		t.Fatalf("ResolveStream() error: %v", err)
	}

	// Read one fragment, then abandon. Close must stop the producer without
	// leaking its goroutine (goleak verifies on return).
	if !stream.Next() {
		t.Fatal("expected at least one fragment")
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if stream.Next() {
		t.Error("Next() after Close should report exhaustion")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() after explicit Close = %v, want nil", err)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("short answer")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	stream, err := p.ResolveStream(context.Background(), Query{Question: "Hello there"})
	if err != nil {
		t.Fatalf("ResolveStream() error: %v", err)
	}

	for range 3 {
		if err := stream.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
	}
}

func TestStreamParentContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	model := testutil.NewMockModel("one two three four five")
	retriever := &fakeRetriever{candidates: passages("x")}

	p := testPipeline(t, retriever, nil, model)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.ResolveStream(ctx, Query{Question: "Hello there"})
	if err != nil {
		t.Fatalf("ResolveStream() error: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	cancel()

	// Drain whatever was in flight; the stream must terminate.
	for stream.Next() {
	}
	_ = stream.Close()
}
