package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/a-h/sitechat/llmtest"
	"github.com/google/go-cmp/cmp"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type fakeStore struct {
	docs    []schema.Document
	err     error
	queries []string
	limits  []int
}

func (f *fakeStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, numDocuments)
	if f.err != nil {
		return nil, f.err
	}
	if numDocuments < len(f.docs) {
		return f.docs[:numDocuments], nil
	}
	return f.docs, nil
}

var pages = []schema.Document{
	{PageContent: "Adrian builds templ.", Metadata: map[string]any{"url": "https://example.com/templ"}},
	{PageContent: "Adrian writes about Go.", Metadata: map[string]any{"title": "Blog"}},
	{PageContent: "Adrian likes AWS."},
}

func collect(g *Generation) (chunks []string) {
	for {
		chunk, ok := g.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

func TestRetrieve(t *testing.T) {
	t.Run("top-k is passed to the store", func(t *testing.T) {
		store := &fakeStore{docs: pages}
		a, err := New(&llmtest.Model{}, store, Config{TopK: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		docs, err := a.Retrieve(context.Background(), "templ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("expected 2 documents, got %d", len(docs))
		}
		if diff := cmp.Diff([]int{2}, store.limits); diff != "" {
			t.Error(diff)
		}
		if diff := cmp.Diff([]string{"templ"}, store.queries); diff != "" {
			t.Error(diff)
		}
	})
	t.Run("the default top-k is used when unset", func(t *testing.T) {
		store := &fakeStore{docs: pages}
		a, err := New(&llmtest.Model{}, store, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err = a.Retrieve(context.Background(), "templ"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]int{DefaultTopK}, store.limits); diff != "" {
			t.Error(diff)
		}
	})
	t.Run("search errors are returned", func(t *testing.T) {
		searchErr := errors.New("connection refused")
		llm := &llmtest.Model{Chunks: []string{"unused"}}
		a, err := New(llm, &fakeStore{err: searchErr}, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err = a.Retrieve(context.Background(), "templ"); !errors.Is(err, searchErr) {
			t.Errorf("expected search error, got %v", err)
		}
		if calls := len(llm.Calls()); calls != 0 {
			t.Errorf("expected no model calls, got %d", calls)
		}
	})
}

func TestPrompt(t *testing.T) {
	a, err := New(&llmtest.Model{}, &fakeStore{}, Config{
		SystemTemplate: "You are {{.bot_name}}, helping {{.owner_name}}.\n{{.context}}",
		BotName:        "Bot",
		OwnerName:      "Adrian",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	history := []llms.ChatMessage{
		llms.HumanChatMessage{Content: "Hello"},
		llms.AIChatMessage{Content: "Hi!"},
	}
	p, err := a.Prompt(pages[:2], history, "What is {{.context}}?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You are Bot, helping Adrian.\n"+
			"Page content:\nAdrian builds templ.\nSource: https://example.com/templ"+
			"\n------\n"+
			"Page content:\nAdrian writes about Go."),
		llms.TextParts(llms.ChatMessageTypeHuman, "Hello"),
		llms.TextParts(llms.ChatMessageTypeAI, "Hi!"),
		llms.TextParts(llms.ChatMessageTypeHuman, "What is {{.context}}?"),
	}
	if diff := cmp.Diff(expected, p.Messages); diff != "" {
		t.Error(diff)
	}
	if len(p.Context) != 2 {
		t.Errorf("expected 2 context documents, got %d", len(p.Context))
	}
}

func TestNewRejectsInvalidTemplates(t *testing.T) {
	tests := []string{
		"{{.context",
		"{{.unknown}}",
	}
	for _, tmpl := range tests {
		t.Run(tmpl, func(t *testing.T) {
			if _, err := New(&llmtest.Model{}, &fakeStore{}, Config{SystemTemplate: tmpl}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestContext(t *testing.T) {
	first := "Page content:\nAdrian builds templ.\nSource: https://example.com/templ"
	second := "Page content:\nAdrian writes about Go."
	tests := []struct {
		name         string
		max          int
		expected     string
		expectedUsed int
	}{
		{
			name:         "everything fits",
			max:          10000,
			expected:     first + separator + second + separator + "Page content:\nAdrian likes AWS.",
			expectedUsed: 3,
		},
		{
			name:         "only whole chunks are included",
			max:          len(first) + len(separator) + len(second),
			expected:     first + separator + second,
			expectedUsed: 2,
		},
		{
			name:         "a single chunk that is too large is truncated",
			max:          20,
			expected:     first[:20],
			expectedUsed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(&llmtest.Model{}, &fakeStore{}, Config{MaxContextChars: tt.max})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			actual, used := a.Context(pages)
			if diff := cmp.Diff(tt.expected, actual); diff != "" {
				t.Error(diff)
			}
			if used != tt.expectedUsed {
				t.Errorf("expected %d chunks used, got %d", tt.expectedUsed, used)
			}
		})
	}
}

func TestContextLimitIsInBytes(t *testing.T) {
	a, err := New(&llmtest.Model{}, &fakeStore{}, Config{MaxContextChars: 19})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "Page content:\nhéllo" is 19 runes but 20 bytes.
	actual, used := a.Context([]schema.Document{{PageContent: "héllo"}})
	if actual != "Page content:\nhéll" {
		t.Errorf("expected %q, got %q", "Page content:\nhéll", actual)
	}
	if used != 1 {
		t.Errorf("expected 1 chunk used, got %d", used)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if actual := truncate("héllo", 2); actual != "h" {
		t.Errorf("expected %q, got %q", "h", actual)
	}
}

func TestStream(t *testing.T) {
	prompt := Prompt{
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")},
		Context:  pages[:1],
	}
	t.Run("chunks are yielded in generation order", func(t *testing.T) {
		llm := &llmtest.Model{Chunks: []string{"The ", "quick ", "fox"}}
		a, err := New(llm, &fakeStore{}, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		g := a.Stream(context.Background(), prompt)
		defer g.Close()
		chunks := collect(g)
		if err := g.Err(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"The ", "quick ", "fox"}, chunks); diff != "" {
			t.Error(diff)
		}
		if strings.Join(chunks, "") != "The quick fox" {
			t.Errorf("unexpected answer %q", strings.Join(chunks, ""))
		}
		if diff := cmp.Diff(pages[:1], g.Context); diff != "" {
			t.Error(diff)
		}
		if llm.Calls()[0].Options.Temperature != 0 {
			t.Errorf("expected temperature 0")
		}
	})
	t.Run("errors after the first chunk end the sequence", func(t *testing.T) {
		modelErr := errors.New("model overloaded")
		llm := &llmtest.Model{Chunks: []string{"The ", "quick ", "fox"}, Err: modelErr, ErrAfter: 1}
		a, err := New(llm, &fakeStore{}, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		g := a.Stream(context.Background(), prompt)
		defer g.Close()
		if diff := cmp.Diff([]string{"The "}, collect(g)); diff != "" {
			t.Error(diff)
		}
		if !errors.Is(g.Err(), modelErr) {
			t.Errorf("expected model error, got %v", g.Err())
		}
	})
	t.Run("cancelling the context stops the model", func(t *testing.T) {
		llm := &llmtest.Model{Chunks: []string{"on ", "and "}, Forever: true, Returned: make(chan error, 1)}
		a, err := New(llm, &fakeStore{}, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		g := a.Stream(ctx, prompt)
		if chunk, ok := g.Next(); !ok || chunk != "on " {
			t.Fatalf("expected first chunk, got %q, %v", chunk, ok)
		}
		cancel()
		select {
		case err := <-llm.Returned:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("model call did not return after cancellation")
		}
		g.Close()
		if !errors.Is(g.Err(), context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", g.Err())
		}
	})
	t.Run("close stops the model", func(t *testing.T) {
		llm := &llmtest.Model{Chunks: []string{"on "}, Forever: true, Returned: make(chan error, 1)}
		a, err := New(llm, &fakeStore{}, Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		g := a.Stream(context.Background(), prompt)
		g.Next()
		g.Close()
		if err := <-llm.Returned; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
