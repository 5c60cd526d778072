package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/a-h/sitechat/answer"
	"github.com/a-h/sitechat/auth"
	"github.com/a-h/sitechat/db"
	"github.com/a-h/sitechat/embedding"
	chatpost "github.com/a-h/sitechat/handlers/chat/post"
	contactpost "github.com/a-h/sitechat/handlers/contact/post"
	contextpost "github.com/a-h/sitechat/handlers/context/post"
	documentspost "github.com/a-h/sitechat/handlers/documents/post"
	healthget "github.com/a-h/sitechat/handlers/health/get"
	"github.com/a-h/sitechat/mail"
	"github.com/a-h/sitechat/rewrite"
	"github.com/rqlite/gorqlite"
	"github.com/rs/cors"
	"github.com/tmc/langchaingo/textsplitter"
)

type ServeCommand struct {
	ListenAddr     string   `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:9020"`
	TLSCertFile    string   `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile     string   `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	APIKeysFile    string   `help:"The file containing a JSON map of API keys to usernames. The admin routes are disabled if not set." env:"API_KEYS_FILE" default:""`
	AllowedOrigins []string `help:"Origins allowed to call the chat and contact routes from a browser. All origins are allowed if empty." env:"CORS_ALLOWED_ORIGINS"`
	LogLevel       string   `help:"The log level to use." env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`

	LLMProvider    string `help:"The language model provider." env:"LLM_PROVIDER" enum:"googleai,ollama,openai" default:"googleai"`
	GoogleAPIKey   string `help:"The Gemini API key." env:"GOOGLE_API_KEY,GEMINI_API_KEY" default:""`
	OllamaURL      string `help:"The URL of the Ollama server." env:"OLLAMA_URL" default:"http://127.0.0.1:11434/"`
	OpenAIAPIKey   string `help:"The OpenAI API key." env:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL  string `help:"The base URL of an OpenAI compatible API." env:"OPENAI_BASE_URL" default:""`
	ChatModel      string `help:"The model used to answer questions. Defaults to the provider's chat model." env:"CHAT_MODEL" default:""`
	RewriteModel   string `help:"The model used to turn follow-up questions into search queries. Defaults to the chat model." env:"REWRITE_MODEL" default:""`
	EmbeddingModel string `help:"The model to use for embeddings. Defaults to the provider's embedding model." env:"EMBEDDING_MODEL" default:""`

	VectorStore     string `help:"The vector index to search." env:"VECTOR_STORE" enum:"rqlite,qdrant,chromem" default:"rqlite"`
	RqliteURL       string `help:"The URL of the rqlite server." env:"RQLITE_URL" default:"http://localhost:4001"`
	QdrantURL       string `help:"The URL of the Qdrant server." env:"QDRANT_URL" default:""`
	QdrantAPIKey    string `help:"The Qdrant API key." env:"QDRANT_API_KEY" default:""`
	ChromemPath     string `help:"The directory used to persist the embedded vector index. The index is held in memory if empty." env:"CHROMEM_PATH" default:"sitechat-index"`
	Collection      string `help:"The name of the vector collection." env:"VECTOR_COLLECTION" default:"sitechat"`
	Namespace       string `help:"The namespace within the collection." env:"VECTOR_NAMESPACE" default:""`
	TopK            int    `help:"The number of chunks to retrieve for each question." env:"TOP_K" default:"4"`
	MaxContextChars int    `help:"The maximum size, in bytes, of the retrieved context added to the prompt." env:"MAX_CONTEXT_CHARS" default:"12000"`
	ChunkSize       int    `help:"The maximum size of each imported chunk." env:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int    `help:"The overlap between imported chunks." env:"CHUNK_OVERLAP" default:"100"`

	Cache      string        `help:"Where to cache model responses." env:"CACHE" enum:"none,memory,rqlite,redis" default:"memory"`
	CacheSize  int           `help:"The number of responses held by the memory cache." env:"CACHE_SIZE" default:"1000"`
	CacheTTL   time.Duration `help:"How long responses are kept in Redis. Zero keeps them until evicted." env:"CACHE_TTL" default:"0s"`
	RedisURL   string        `help:"The URL of the Redis server." env:"UPSTASH_REDIS_REST_URL,REDIS_URL" default:""`
	RedisToken string        `help:"The Redis password or Upstash token." env:"UPSTASH_REDIS_REST_TOKEN,REDIS_TOKEN" default:""`

	BotName           string `help:"The name the assistant uses for itself." env:"BOT_NAME" default:"Site Support"`
	OwnerName         string `help:"The name of the site owner." env:"OWNER_NAME" default:"the site owner"`
	SystemPromptFile  string `help:"A file containing the system prompt template." env:"SYSTEM_PROMPT_FILE" default:""`
	RewritePromptFile string `help:"A file containing the instruction used to rewrite follow-up questions." env:"REWRITE_PROMPT_FILE" default:""`

	SMTPHost     string `help:"The SMTP server used to deliver contact form messages. The contact route is disabled if not set." env:"SMTP_HOST" default:""`
	SMTPPort     int    `help:"The SMTP port." env:"SMTP_PORT" default:"465"`
	SMTPUser     string `help:"The SMTP username." env:"SMTP_USER" default:""`
	SMTPPass     string `help:"The SMTP password." env:"SMTP_PASS" default:""`
	SMTPSSL      bool   `help:"Use implicit TLS." env:"SMTP_SSL" default:"true" negatable:""`
	SMTPFrom     string `help:"The sender address. Defaults to the SMTP username." env:"SMTP_FROM" default:""`
	SMTPReceiver string `help:"The address contact form messages are sent to." env:"SMTP_RECEIVER_EMAIL" default:""`
}

// Validate is called by kong after parsing.
func (c ServeCommand) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case "googleai":
		if c.GoogleAPIKey == "" {
			errs = append(errs, errors.New("--google-api-key is required for the googleai provider"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("--openai-api-key is required for the openai provider"))
		}
	}
	if c.VectorStore == "qdrant" && c.QdrantURL == "" {
		errs = append(errs, errors.New("--qdrant-url is required for the qdrant vector store"))
	}
	if c.Cache == "redis" && c.RedisURL == "" {
		errs = append(errs, errors.New("--redis-url is required for the redis cache"))
	}
	if c.Cache == "memory" && c.CacheSize < 1 {
		errs = append(errs, errors.New("--cache-size must be at least 1"))
	}
	if c.TopK < 1 {
		errs = append(errs, errors.New("--top-k must be at least 1"))
	}
	if c.MaxContextChars < 1 {
		errs = append(errs, errors.New("--max-context-chars must be at least 1"))
	}
	if c.ChunkSize < 1 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, errors.New("--chunk-overlap must be smaller than --chunk-size"))
	}
	if c.SMTPHost != "" && c.SMTPReceiver == "" {
		errs = append(errs, errors.New("--smtp-receiver is required when --smtp-host is set"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("--tls-cert-file and --tls-key-file must be set together"))
	}
	return errors.Join(errs...)
}

func readFileOrDefault(filename, defaultContent string) (string, error) {
	if filename == "" {
		return defaultContent, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return string(contents), nil
}

func (c ServeCommand) needsRqlite() bool {
	return c.VectorStore == "rqlite" || c.Cache == "rqlite"
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	systemPrompt, err := readFileOrDefault(c.SystemPromptFile, answer.DefaultSystemTemplate)
	if err != nil {
		return fmt.Errorf("failed to read system prompt: %w", err)
	}
	answerConfig := answer.Config{
		SystemTemplate:  systemPrompt,
		BotName:         c.BotName,
		OwnerName:       c.OwnerName,
		TopK:            c.TopK,
		MaxContextChars: c.MaxContextChars,
	}
	if err = answerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid system prompt template: %w", err)
	}
	rewriteInstruction, err := readFileOrDefault(c.RewritePromptFile, rewrite.DefaultInstruction)
	if err != nil {
		return fmt.Errorf("failed to read rewrite prompt: %w", err)
	}
	if _, err = rewrite.New(nil, rewriteInstruction); err != nil {
		return fmt.Errorf("invalid rewrite prompt: %w", err)
	}

	var queries *db.Queries
	if c.needsRqlite() {
		databaseURL, err := db.ParseRqliteURL(c.RqliteURL)
		if err != nil {
			return fmt.Errorf("failed to parse rqlite URL: %w", err)
		}
		log.Info("opening database connection", slog.String("url", databaseURL.Redacted()))
		conn, err := gorqlite.Open(databaseURL.DataSourceName())
		if err != nil {
			return fmt.Errorf("failed to open connection: %w", err)
		}
		defer conn.Close()
		queries = db.New(conn)

		log.Info("migrating database schema")
		version, err := db.Migrate(databaseURL)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database schema migrated", slog.Uint64("version", uint64(version)))
	}

	log.Info("creating LLM clients", slog.String("provider", c.LLMProvider))
	providers, err := c.newProviders(ctx)
	if err != nil {
		return err
	}
	emb := embedding.New(providers.embedder)
	dimension, err := emb.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine embedding dimension: %w", err)
	}
	log.Info("embedding model ready", slog.String("model", providers.embeddingModel), slog.Int("dimension", dimension))

	index, err := c.newIndex(emb, queries)
	if err != nil {
		return err
	}
	if err = index.Ensure(ctx, dimension); err != nil {
		return fmt.Errorf("failed to prepare %s vector store: %w", c.VectorStore, err)
	}

	backend, err := c.newCache(ctx, log, queries)
	if err != nil {
		return err
	}
	models := providers.cached(backend)
	modelFactory := func(ctx context.Context) (chatpost.Models, error) {
		return models, nil
	}

	mux := http.NewServeMux()

	chatHandler := chatpost.New(log, modelFactory, index, chatpost.Config{
		RewriteInstruction: rewriteInstruction,
		Answer:             answerConfig,
	})
	mux.Handle("POST /api/chat", chatHandler)
	mux.Handle("POST /chat", chatHandler)
	mux.Handle("GET /healthz", healthget.New())

	if c.SMTPHost != "" {
		from := c.SMTPFrom
		if from == "" {
			from = c.SMTPUser
		}
		sender := mail.NewSMTP(mail.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUser,
			Password: c.SMTPPass,
			SSL:      c.SMTPSSL,
			From:     from,
			To:       c.SMTPReceiver,
		})
		mux.Handle("POST /api/contact", contactpost.New(log, sender))
	} else {
		log.Warn("SMTP is not configured, the contact route is disabled")
	}

	if c.APIKeysFile != "" {
		apiKeyToUserName, err := auth.LoadFromFile(c.APIKeysFile)
		if err != nil {
			return fmt.Errorf("failed to load API keys: %w", err)
		}
		splitter := textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(c.ChunkSize),
			textsplitter.WithChunkOverlap(c.ChunkOverlap),
		)
		mux.Handle("POST /documents", auth.New(apiKeyToUserName, documentspost.New(log, index, splitter)))
		mux.Handle("POST /context", auth.New(apiKeyToUserName, contextpost.New(log, index, c.TopK)))
	} else {
		log.Warn("API keys are not configured, the admin routes are disabled")
	}

	handler := cors.AllowAll().Handler(mux)
	if len(c.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: c.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(mux)
	}

	log.Info("Listening", slog.String("addr", c.ListenAddr))
	s := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	errs := make(chan error, 1)
	go func() {
		if s.TLSConfig != nil {
			errs <- s.ListenAndServeTLS("", "")
			return
		}
		errs <- s.ListenAndServe()
	}()
	select {
	case err = <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
