// Package answer retrieves page chunks for a query and streams a grounded answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/a-h/sitechat/convo"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const DefaultSystemTemplate = `You are {{.bot_name}}, a friendly chatbot for {{.owner_name}}'s personal developer portfolio website. You are trying to convince potential employers to hire {{.owner_name}} as a software developer. Be concise and only answer the user's questions based on the provided context below. Provide links to pages that contain relevant information about the topic from the given context. Format your messages in markdown.

Context:
{{.context}}`

const (
	DefaultTopK            = 4
	DefaultMaxContextChars = 12000
	separator              = "\n------\n"
)

type Config struct {
	// SystemTemplate is a Go template with the variables context, bot_name and owner_name.
	SystemTemplate  string
	BotName         string
	OwnerName       string
	TopK            int
	// MaxContextChars limits the UTF-8 encoded size of the context, in bytes.
	MaxContextChars int
}

func (c Config) withDefaults() Config {
	if c.SystemTemplate == "" {
		c.SystemTemplate = DefaultSystemTemplate
	}
	if c.TopK < 1 {
		c.TopK = DefaultTopK
	}
	if c.MaxContextChars < 1 {
		c.MaxContextChars = DefaultMaxContextChars
	}
	return c
}

// Validate formats the system template once with placeholder values.
func (c Config) Validate() error {
	c = c.withDefaults()
	_, err := newTemplate(c.SystemTemplate).FormatMessages(map[string]any{
		"context":      "Page content:\nexample",
		"bot_name":     c.BotName,
		"owner_name":   c.OwnerName,
		"chat_history": []llms.ChatMessage{},
		"input":        "hello",
	})
	return err
}

func newTemplate(system string) prompts.ChatPromptTemplate {
	return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(system, []string{"context", "bot_name", "owner_name"}),
		prompts.MessagesPlaceholder{VariableName: "chat_history"},
		prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
	})
}

// New creates an Answerer that retrieves from store and generates with llm.
func New(llm llms.Model, store vectorstores.VectorStore, config Config) (*Answerer, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("answer: invalid system template: %w", err)
	}
	return &Answerer{
		llm:       llm,
		retriever: vectorstores.ToRetriever(store, config.TopK),
		config:    config,
		template:  newTemplate(config.SystemTemplate),
	}, nil
}

type Answerer struct {
	llm       llms.Model
	retriever vectorstores.Retriever
	config    Config
	template  prompts.ChatPromptTemplate
}

// Retrieve returns the most similar chunks for the query, most similar first.
func (a *Answerer) Retrieve(ctx context.Context, query string) (docs []schema.Document, err error) {
	docs, err = a.retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("answer: failed to retrieve documents: %w", err)
	}
	return docs, nil
}

// Prompt is the model input together with the chunks it was grounded on.
type Prompt struct {
	Messages []llms.MessageContent
	Context  []schema.Document
}

// Prompt assembles the grounding prompt.
func (a *Answerer) Prompt(docs []schema.Document, history []llms.ChatMessage, question string) (p Prompt, err error) {
	pages, used := a.Context(docs)
	msgs, err := a.template.FormatMessages(map[string]any{
		"context":      pages,
		"bot_name":     a.config.BotName,
		"owner_name":   a.config.OwnerName,
		"chat_history": history,
		"input":        question,
	})
	if err != nil {
		return p, fmt.Errorf("answer: failed to format prompt: %w", err)
	}
	p.Messages = convo.MessageContent(msgs)
	p.Context = docs[:used]
	return p, nil
}

// Context joins whole chunks until MaxContextChars bytes are reached, and returns the number of chunks used.
// A single chunk that exceeds the limit on its own is truncated.
func (a *Answerer) Context(docs []schema.Document) (pages string, used int) {
	var sb strings.Builder
	for i, doc := range docs {
		page := formatDocument(doc)
		if i > 0 {
			page = separator + page
		}
		if sb.Len()+len(page) > a.config.MaxContextChars {
			if i == 0 {
				sb.WriteString(truncate(page, a.config.MaxContextChars))
				used++
			}
			break
		}
		sb.WriteString(page)
		used++
	}
	return sb.String(), used
}

func formatDocument(doc schema.Document) string {
	s := "Page content:\n" + doc.PageContent
	if url, ok := doc.Metadata["url"].(string); ok && url != "" {
		s += "\nSource: " + url
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

var errPanic = errors.New("answer: generation panicked")

// Stream starts generating an answer for the prompt.
// The model is only asked for the next chunk once the previous one has been consumed.
func (a *Answerer) Stream(ctx context.Context, p Prompt) *Generation {
	ctx, cancel := context.WithCancel(ctx)
	g := &Generation{
		Context: p.Context,
		chunks:  make(chan string),
		cancel:  cancel,
	}
	go func() {
		defer close(g.chunks)
		defer func() {
			if r := recover(); r != nil {
				g.err = fmt.Errorf("%w: %v", errPanic, r)
			}
		}()
		_, err := a.llm.GenerateContent(ctx, p.Messages,
			llms.WithTemperature(0),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				select {
				case g.chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
		if err == nil {
			// Some providers stop quietly when the streaming function fails.
			err = ctx.Err()
		}
		g.err = err
	}()
	return g
}

// Generation is a forward-only sequence of answer chunks.
type Generation struct {
	// Context is the chunks the answer is grounded on.
	Context []schema.Document

	chunks chan string
	cancel context.CancelFunc
	err    error
}

// Next blocks until the next chunk is available. It returns false when generation has ended.
func (g *Generation) Next() (chunk string, ok bool) {
	chunk, ok = <-g.chunks
	return chunk, ok
}

// Err returns the error that ended generation. It must only be called after Next has returned false, or after Close.
func (g *Generation) Err() error {
	return g.err
}

// Close stops generation and waits for the model call to return.
func (g *Generation) Close() {
	g.cancel()
	for range g.chunks {
	}
}
