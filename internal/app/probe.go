package app

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// GeneratorProbe checks that a generation backend is reachable. Only the
// ollama provider gets one; hosted providers have no cheap liveness call.
type GeneratorProbe interface {
	Probe(ctx context.Context) error
}

// ollamaProbe hits the Ollama tags endpoint, the same call the CLI uses to
// list installed models.
type ollamaProbe struct {
	host   string
	client *http.Client
}

func newOllamaProbe(host string) *ollamaProbe {
	return &ollamaProbe{
		host:   host,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *ollamaProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
