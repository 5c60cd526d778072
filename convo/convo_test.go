package convo

import (
	"testing"

	"github.com/a-h/sitechat/models"
	"github.com/google/go-cmp/cmp"
	"github.com/tmc/langchaingo/llms"
)

func TestRoundTrip(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "What do you build?"},
		{Role: models.RoleAssistant, Content: "Web apps."},
	}
	expected := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "What do you build?"),
		llms.TextParts(llms.ChatMessageTypeAI, "Web apps."),
	}
	if diff := cmp.Diff(expected, MessageContent(ChatMessages(history))); diff != "" {
		t.Error(diff)
	}
}
