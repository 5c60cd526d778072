package models

import "strings"

type ChatPostRequest struct {
	Messages []UIMessage `json:"messages"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UIMessage is a message in the format sent by the browser chat client.
type UIMessage struct {
	ID    string          `json:"id"`
	Role  Role            `json:"role"`
	Parts []UIMessagePart `json:"parts,omitempty"`
	// Content is used by older clients that don't send parts.
	Content string `json:"content,omitempty"`
}

type UIMessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const UIMessagePartTypeText = "text"

// Text concatenates the text parts of the message, falling back to Content.
func (m UIMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == UIMessagePartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ChatMessage is a single conversation turn once it has been extracted from the wire format.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
