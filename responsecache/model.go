// Package responsecache short-circuits repeated identical language model calls.
package responsecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/cache"
)

func New(llm llms.Model, modelID string, backend cache.Backend) *Model {
	if backend == nil {
		backend = None{}
	}
	return &Model{
		llm:     llm,
		modelID: modelID,
		backend: backend,
	}
}

// Model wraps a language model with a content-addressed cache. Entries are only ever
// added, a completed response is stored under a key derived from the model identifier,
// the messages, and the call options.
type Model struct {
	llm     llms.Model
	modelID string
	backend cache.Backend
}

var _ llms.Model = (*Model)(nil)

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	key, err := Key(m.modelID, messages, opts)
	if err != nil {
		return nil, fmt.Errorf("responsecache: failed to create key: %w", err)
	}

	if resp := m.backend.Get(ctx, key); resp != nil && len(resp.Choices) > 0 {
		if opts.StreamingFunc != nil {
			if err = opts.StreamingFunc(ctx, []byte(resp.Choices[0].Content)); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}

	// Some providers stop quietly when the streaming function fails, so track it here to
	// avoid caching a partial answer.
	var streamErr error
	if f := opts.StreamingFunc; f != nil {
		options = append(slices.Clone(options), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if err := f(ctx, chunk); err != nil {
				streamErr = err
				return err
			}
			return nil
		}))
	}
	resp, err := m.llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if ctx.Err() != nil || resp == nil || len(resp.Choices) == 0 {
		return resp, nil
	}
	m.backend.Put(ctx, key, trim(resp))
	return resp, nil
}

// Key returns the cache key for a call.
func Key(modelID string, messages []llms.MessageContent, opts llms.CallOptions) (string, error) {
	hash := sha256.New()
	if _, err := io.WriteString(hash, modelID+"\n"); err != nil {
		return "", err
	}
	enc := json.NewEncoder(hash)
	if err := enc.Encode(messages); err != nil {
		return "", err
	}
	if err := enc.Encode(opts); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// trim keeps the parts of a response needed to replay it.
func trim(resp *llms.ContentResponse) *llms.ContentResponse {
	out := &llms.ContentResponse{
		Choices: make([]*llms.ContentChoice, len(resp.Choices)),
	}
	for i, c := range resp.Choices {
		out.Choices[i] = &llms.ContentChoice{
			Content:    c.Content,
			StopReason: c.StopReason,
		}
	}
	return out
}

func marshal(resp *llms.ContentResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func unmarshal(data []byte) (*llms.ContentResponse, error) {
	var resp llms.ContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// None is a backend that never stores anything.
type None struct{}

func (None) Get(ctx context.Context, key string) *llms.ContentResponse { return nil }

func (None) Put(ctx context.Context, key string, response *llms.ContentResponse) {}
