// Package embedding turns text into vectors for indexing and retrieval.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
)

// DefaultDimension is the length of the zero vector returned for empty input when the
// model's dimension can't be discovered.
const DefaultDimension = 1024

// probeText is sent instead of empty input to discover the model's dimension.
const probeText = "placeholder"

var ErrEmptyResponse = errors.New("embedding: model returned no vectors")

func New(client embeddings.EmbedderClient) *Provider {
	return &Provider{
		client: client,
	}
}

// Provider embeds text one input at a time. Empty or whitespace-only input is never sent to
// the model, it's given a zero vector with the model's dimension instead.
type Provider struct {
	client embeddings.EmbedderClient

	m         sync.Mutex
	dimension int
}

var _ embeddings.Embedder = (*Provider)(nil)

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.emptyDimension(ctx)), nil
	}
	v, err := p.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to embed text: %w", err)
	}
	return v, nil
}

// EmbedDocuments embeds each text with its own call. Output order matches input order.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimension returns the length of the vectors produced by the model, calling the model if
// it isn't known yet. Unlike empty input handling, a failed probe is returned as an error.
func (p *Provider) Dimension(ctx context.Context) (int, error) {
	p.m.Lock()
	d := p.dimension
	p.m.Unlock()
	if d > 0 {
		return d, nil
	}
	v, err := p.embed(ctx, probeText)
	if err != nil {
		return 0, fmt.Errorf("embedding: failed to probe dimension: %w", err)
	}
	return len(v), nil
}

func (p *Provider) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyResponse
	}
	p.m.Lock()
	p.dimension = len(vectors[0])
	p.m.Unlock()
	return vectors[0], nil
}

// emptyDimension holds the lock while probing so that concurrent empty inputs share a
// single probe.
func (p *Provider) emptyDimension(ctx context.Context) int {
	p.m.Lock()
	defer p.m.Unlock()
	if p.dimension > 0 {
		return p.dimension
	}
	p.dimension = DefaultDimension
	vectors, err := p.client.CreateEmbedding(ctx, []string{probeText})
	if err == nil && len(vectors) > 0 && len(vectors[0]) > 0 {
		p.dimension = len(vectors[0])
	}
	return p.dimension
}
