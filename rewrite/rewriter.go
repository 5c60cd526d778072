// Package rewrite condenses a conversation into a standalone search query.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/a-h/sitechat/convo"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const DefaultInstruction = `Given the above conversation history, generate a search query to look up information relevant to the current question. Do not leave out any relevant keywords. Only return the query and no other text.`

var ErrEmptyQuery = errors.New("rewrite: model returned an empty query")

// New creates a Rewriter. The instruction is sent as a user message after the latest question.
func New(llm llms.Model, instruction string) (*Rewriter, error) {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	r := &Rewriter{
		llm:         llm,
		instruction: instruction,
		template: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.MessagesPlaceholder{VariableName: "chat_history"},
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
			prompts.NewHumanMessagePromptTemplate("{{.instruction}}", []string{"instruction"}),
		}),
	}
	if _, err := r.Prompt([]llms.ChatMessage{llms.AIChatMessage{Content: "Hello"}}, "hello"); err != nil {
		return nil, fmt.Errorf("rewrite: invalid prompt: %w", err)
	}
	return r, nil
}

type Rewriter struct {
	llm         llms.Model
	instruction string
	template    prompts.ChatPromptTemplate
}

// Prompt returns the messages sent to the model.
func (r *Rewriter) Prompt(history []llms.ChatMessage, question string) ([]llms.MessageContent, error) {
	msgs, err := r.template.FormatMessages(map[string]any{
		"chat_history": history,
		"input":        question,
		"instruction":  r.instruction,
	})
	if err != nil {
		return nil, err
	}
	return convo.MessageContent(msgs), nil
}

// Rewrite returns a search query for the question, taking the history into account.
// With no history, the question already stands alone and is returned unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, history []llms.ChatMessage, question string) (query string, err error) {
	if len(history) == 0 {
		return strings.TrimSpace(question), nil
	}
	prompt, err := r.Prompt(history, question)
	if err != nil {
		return "", fmt.Errorf("rewrite: failed to format prompt: %w", err)
	}
	resp, err := r.llm.GenerateContent(ctx, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("rewrite: failed to generate query: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyQuery
	}
	query = clean(resp.Choices[0].Content)
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query, nil
}

// clean removes formatting that models add despite being asked not to.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
