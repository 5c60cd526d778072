// Package convo converts conversation turns between the wire format and model input.
package convo

import (
	"github.com/a-h/sitechat/models"
	"github.com/tmc/langchaingo/llms"
)

// ChatMessages converts conversation turns into langchaingo chat messages.
func ChatMessages(msgs []models.ChatMessage) []llms.ChatMessage {
	out := make([]llms.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, llms.AIChatMessage{Content: m.Content})
		default:
			out = append(out, llms.HumanChatMessage{Content: m.Content})
		}
	}
	return out
}

// MessageContent converts formatted chat messages into model input.
func MessageContent(msgs []llms.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, len(msgs))
	for i, m := range msgs {
		out[i] = llms.TextParts(m.GetType(), m.GetContent())
	}
	return out
}
