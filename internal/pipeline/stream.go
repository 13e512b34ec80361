package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Stream delivers an answer as a sequence of text fragments.
//
// Usage follows the bufio.Scanner pattern:
//
//	stream, err := pipe.ResolveStream(ctx, q)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Text())
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Close aborts the underlying generation; a consumer may stop reading at any
// point without waiting for the remaining fragments. Stream is not safe for
// concurrent use by multiple goroutines.
type Stream struct {
	ch     chan string
	done   chan struct{}
	cancel context.CancelFunc

	cur       string
	err       error
	closeOnce sync.Once
}

// startStream launches generation in a goroutine and returns the consumer
// handle. The goroutine exits when generation finishes, the parent context
// ends, or Close cancels it.
func (p *Pipeline) startStream(ctx context.Context, prompt string) *Stream {
	genCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		defer close(s.ch)
		defer cancel()

		// Leading whitespace-only chunks are held back until real text
		// arrives, so a model that emits nothing substantive streams the
		// same apology the blocking path returns.
		var pending string
		sawText := false

		opts := append(p.generateOptions(prompt),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				text := chunk.Text()
				if text == "" {
					return nil
				}
				if !sawText {
					if strings.TrimSpace(text) == "" {
						pending += text
						return nil
					}
					text = pending + text
					pending = ""
					sawText = true
				}
				select {
				case s.ch <- text:
					return nil
				case <-genCtx.Done():
					return genCtx.Err()
				}
			}))

		_, err := genkit.Generate(genCtx, p.g, opts...)
		if err == nil {
			if sawText {
				return
			}
			p.logger.Warn("model produced an empty response")
			select {
			case s.ch <- ApologyMessage:
			case <-genCtx.Done():
			}
			return
		}

		if genCtx.Err() != nil {
			// Distinguish caller cancellation from an explicit Close: only
			// the former is an error the consumer should see.
			if ctx.Err() != nil {
				s.err = ctx.Err()
			}
			return
		}

		// The model failed mid-stream. Deliver the fixed apology as the
		// final fragment instead of surfacing an error.
		p.logger.Error("generation failed mid-stream", "error", err)
		select {
		case s.ch <- ApologyMessage:
		case <-genCtx.Done():
		}
	}()

	return s
}

// Next advances to the next fragment. It returns false when the stream is
// exhausted or aborted; check Err afterwards.
func (s *Stream) Next() bool {
	text, ok := <-s.ch
	if !ok {
		s.cur = ""
		return false
	}
	s.cur = text
	return true
}

// Text returns the current fragment.
func (s *Stream) Text() string {
	return s.cur
}

// Err returns the first error that terminated the stream early, or nil.
// Explicitly closing the stream is not an error.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close aborts generation and releases the stream. It is safe to call Close
// multiple times and after the stream is exhausted.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so the producer goroutine can finish its send and exit.
		for range s.ch {
		}
		<-s.done
	})
	return nil
}
