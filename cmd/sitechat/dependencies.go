package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a-h/sitechat/db"
	chatpost "github.com/a-h/sitechat/handlers/chat/post"
	"github.com/a-h/sitechat/responsecache"
	"github.com/a-h/sitechat/vectorstore"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/cache"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

type providerDefaults struct {
	chat      string
	embedding string
}

var defaultModels = map[string]providerDefaults{
	"googleai": {chat: "gemini-2.5-flash", embedding: "gemini-embedding-001"},
	"ollama":   {chat: "mistral-nemo", embedding: "nomic-embed-text"},
	"openai":   {chat: "gpt-4o-mini", embedding: "text-embedding-3-small"},
}

type providers struct {
	name           string
	chat           llms.Model
	chatModel      string
	rewrite        llms.Model
	rewriteModel   string
	embedder       embeddings.EmbedderClient
	embeddingModel string
}

// cached wraps both model roles with the response cache.
func (p providers) cached(backend cache.Backend) chatpost.Models {
	return chatpost.Models{
		Rewrite:  responsecache.New(p.rewrite, p.name+"/"+p.rewriteModel, backend),
		Generate: responsecache.New(p.chat, p.name+"/"+p.chatModel, backend),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c ServeCommand) newProviders(ctx context.Context) (p providers, err error) {
	defaults := defaultModels[c.LLMProvider]
	p.name = c.LLMProvider
	p.chatModel = orDefault(c.ChatModel, defaults.chat)
	p.rewriteModel = orDefault(c.RewriteModel, p.chatModel)
	p.embeddingModel = orDefault(c.EmbeddingModel, defaults.embedding)

	switch c.LLMProvider {
	case "googleai":
		newClient := func(model string) (*googleai.GoogleAI, error) {
			return googleai.New(ctx,
				googleai.WithAPIKey(c.GoogleAPIKey),
				googleai.WithDefaultModel(model),
				googleai.WithDefaultEmbeddingModel(p.embeddingModel),
				googleai.WithDefaultTemperature(0))
		}
		chat, err := newClient(p.chatModel)
		if err != nil {
			return p, fmt.Errorf("failed to create googleai client: %w", err)
		}
		p.chat, p.embedder = chat, chat
		p.rewrite = chat
		if p.rewriteModel != p.chatModel {
			if p.rewrite, err = newClient(p.rewriteModel); err != nil {
				return p, fmt.Errorf("failed to create googleai client: %w", err)
			}
		}
	case "ollama":
		httpClient := &http.Client{}
		newClient := func(model string) (*ollama.LLM, error) {
			return ollama.New(
				ollama.WithModel(model),
				ollama.WithHTTPClient(httpClient),
				ollama.WithServerURL(c.OllamaURL))
		}
		if p.chat, err = newClient(p.chatModel); err != nil {
			return p, fmt.Errorf("failed to create LLM: %w", err)
		}
		if p.rewrite, err = newClient(p.rewriteModel); err != nil {
			return p, fmt.Errorf("failed to create LLM: %w", err)
		}
		if p.embedder, err = newClient(p.embeddingModel); err != nil {
			return p, fmt.Errorf("failed to create embedder: %w", err)
		}
	case "openai":
		newClient := func(model string) (*openai.LLM, error) {
			opts := []openai.Option{
				openai.WithToken(c.OpenAIAPIKey),
				openai.WithModel(model),
				openai.WithEmbeddingModel(p.embeddingModel),
			}
			if c.OpenAIBaseURL != "" {
				opts = append(opts, openai.WithBaseURL(c.OpenAIBaseURL))
			}
			return openai.New(opts...)
		}
		chat, err := newClient(p.chatModel)
		if err != nil {
			return p, fmt.Errorf("failed to create openai client: %w", err)
		}
		p.chat, p.embedder = chat, chat
		if p.rewrite, err = newClient(p.rewriteModel); err != nil {
			return p, fmt.Errorf("failed to create openai client: %w", err)
		}
	default:
		return p, fmt.Errorf("unknown LLM provider %q", c.LLMProvider)
	}
	return p, nil
}

func (c ServeCommand) newIndex(embedder embeddings.Embedder, queries *db.Queries) (vectorstore.Index, error) {
	switch c.VectorStore {
	case "rqlite":
		return vectorstore.NewRqlite(queries, embedder, c.Namespace), nil
	case "qdrant":
		q, err := vectorstore.NewQdrant(c.QdrantURL, c.QdrantAPIKey, c.Collection, c.Namespace, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to create qdrant vector store: %w", err)
		}
		return q, nil
	case "chromem":
		ch, err := vectorstore.NewChromem(c.ChromemPath, c.Collection, c.Namespace, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to create chromem vector store: %w", err)
		}
		return ch, nil
	}
	return nil, fmt.Errorf("unknown vector store %q", c.VectorStore)
}

func (c ServeCommand) newCache(ctx context.Context, log *slog.Logger, queries *db.Queries) (cache.Backend, error) {
	switch c.Cache {
	case "none":
		return responsecache.None{}, nil
	case "memory":
		return responsecache.NewMemory(c.CacheSize), nil
	case "rqlite":
		return responsecache.NewRqlite(log, queries), nil
	case "redis":
		opts, err := responsecache.ParseRedisOptions(c.RedisURL, c.RedisToken)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err = client.Ping(ctx).Err(); err != nil {
			// Cache failures are treated as misses.
			log.Warn("redis cache is unreachable", slog.Any("error", err))
		}
		return responsecache.NewRedis(log, client, c.CacheTTL), nil
	}
	return nil, fmt.Errorf("unknown cache %q", c.Cache)
}
