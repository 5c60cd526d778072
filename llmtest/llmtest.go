// Package llmtest provides language model doubles for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Model streams a fixed sequence of chunks.
type Model struct {
	Chunks []string
	// Err is returned once ErrAfter chunks have been streamed.
	Err      error
	ErrAfter int
	// Forever repeats Chunks until the streaming function or the context stops it.
	Forever bool
	// Returned receives the error returned by each GenerateContent call, if set.
	Returned chan error

	m     sync.Mutex
	calls []Call
}

type Call struct {
	Messages []llms.MessageContent
	Options  llms.CallOptions
}

var _ llms.Model = (*Model)(nil)

func (f *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (resp *llms.ContentResponse, err error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.m.Lock()
	f.calls = append(f.calls, Call{Messages: messages, Options: opts})
	f.m.Unlock()
	if f.Returned != nil {
		defer func() { f.Returned <- err }()
	}

	var sb strings.Builder
	var streamed int
	for {
		for _, chunk := range f.Chunks {
			if f.Err != nil && streamed == f.ErrAfter {
				return nil, f.Err
			}
			if err = ctx.Err(); err != nil {
				return nil, err
			}
			if opts.StreamingFunc != nil {
				if err = opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
					return nil, err
				}
			}
			sb.WriteString(chunk)
			streamed++
		}
		if !f.Forever || len(f.Chunks) == 0 {
			break
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: sb.String(), StopReason: "stop"}},
	}, nil
}

// Calls returns the calls made so far.
func (f *Model) Calls() []Call {
	f.m.Lock()
	defer f.m.Unlock()
	return append([]Call(nil), f.calls...)
}
