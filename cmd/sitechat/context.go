package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/a-h/sitechat/client"
	"github.com/a-h/sitechat/models"
)

type ContextCommand struct {
	ServerURL    string `help:"The URL of the chat server." env:"SITECHAT_URL" default:"http://localhost:9020"`
	ServerAPIKey string `help:"The API key for the chat server." env:"SITECHAT_API_KEY" default:""`
	Text         string `help:"The text to send."`
	Pretty       bool   `help:"Pretty print the JSON output." default:"true" negatable:""`
}

func (c ContextCommand) Run(ctx context.Context) (err error) {
	sc := client.New(c.ServerURL, c.ServerAPIKey)
	resp, err := sc.ContextPost(ctx, models.ContextPostRequest{
		Text: c.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to get context: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if c.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
