package post

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat/answer"
	"github.com/a-h/sitechat/convo"
	"github.com/a-h/sitechat/models"
	"github.com/a-h/sitechat/rewrite"
	"github.com/a-h/sitechat/stream"
	"github.com/a-h/sitechat/vectorstore"
	"github.com/tmc/langchaingo/llms"
)

const maxBodyBytes = 1 << 20

const (
	errInvalidRequestBody  = "Invalid request body"
	errVectorStore         = "Failed to initialize vector store"
	errRetrievalChain      = "Failed to create retrieval chain"
	errDocumentChain       = "Failed to create document chain"
	errProcessMessage      = "Failed to process the message"
	errInternalServerError = "Internal server error"
)

// Models are the language model roles used to answer a question.
type Models struct {
	// Rewrite turns the conversation into a search query.
	Rewrite llms.Model
	// Generate streams the answer.
	Generate llms.Model
}

// ModelFactory returns the models for a request.
type ModelFactory func(ctx context.Context) (Models, error)

type Config struct {
	RewriteInstruction string
	Answer             answer.Config
}

func New(log *slog.Logger, models ModelFactory, opener vectorstore.Opener, config Config) Handler {
	return Handler{
		log:    log,
		models: models,
		opener: opener,
		config: config,
	}
}

type Handler struct {
	log    *slog.Logger
	models ModelFactory
	opener vectorstore.Opener
	config Config
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sw := stream.NewWriter(w)
	stage := "parse"
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("chat handler panicked", slog.String("stage", stage), slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			if sw.Started() {
				_ = sw.Error(errInternalServerError)
				return
			}
			writeError(w, errInternalServerError, http.StatusInternalServerError)
		}
	}()
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := decodeRequest(r.Body)
	if err != nil {
		h.fail(w, stage, errInvalidRequestBody, http.StatusBadRequest, err)
		return
	}
	history, question, err := parseMessages(req.Messages)
	if err != nil {
		h.fail(w, stage, errInvalidRequestBody, http.StatusBadRequest, err)
		return
	}

	stage = "models"
	m, err := h.models(ctx)
	if err != nil {
		h.fail(w, stage, errInternalServerError, http.StatusInternalServerError, err)
		return
	}

	stage = "vectorstore"
	store, err := h.opener.Open(ctx)
	if err != nil {
		h.fail(w, stage, errVectorStore, http.StatusInternalServerError, err)
		return
	}

	stage = "rewrite"
	rewriter, err := rewrite.New(m.Rewrite, h.config.RewriteInstruction)
	if err != nil {
		h.fail(w, stage, errRetrievalChain, http.StatusInternalServerError, err)
		return
	}
	stage = "prompt"
	answerer, err := answer.New(m.Generate, store, h.config.Answer)
	if err != nil {
		h.fail(w, stage, errDocumentChain, http.StatusInternalServerError, err)
		return
	}

	stage = "rewrite"
	chatHistory := convo.ChatMessages(history)
	query, err := rewriter.Rewrite(ctx, chatHistory, question)
	if err != nil {
		h.fail(w, stage, errRetrievalChain, http.StatusInternalServerError, err)
		return
	}
	stage = "retrieve"
	docs, err := answerer.Retrieve(ctx, query)
	if err != nil {
		h.fail(w, stage, errRetrievalChain, http.StatusInternalServerError, err)
		return
	}
	stage = "prompt"
	prompt, err := answerer.Prompt(docs, chatHistory, question)
	if err != nil {
		h.fail(w, stage, errDocumentChain, http.StatusInternalServerError, err)
		return
	}
	h.log.Info("answering question", slog.String("query", query), slog.Int("history", len(history)), slog.Int("retrieved", len(docs)), slog.Int("context", len(prompt.Context)))

	stage = "generate"
	generation := answerer.Stream(ctx, prompt)
	defer generation.Close()
	chunk, ok := generation.Next()
	if !ok {
		if err = generation.Err(); err != nil {
			h.fail(w, stage, errProcessMessage, http.StatusInternalServerError, err)
			return
		}
	}

	stage = "stream"
	if err = sw.Start(); err != nil {
		h.log.Warn("failed to start stream", slog.String("stage", stage), slog.Any("error", err))
		return
	}
	for ; ok; chunk, ok = generation.Next() {
		if err = sw.Delta(chunk); err != nil {
			h.log.Warn("failed to write chunk", slog.String("stage", stage), slog.Any("error", err))
			return
		}
	}
	if err = generation.Err(); err != nil {
		h.log.Error("failed to generate answer", slog.String("stage", "generate"), slog.Any("error", err))
		_ = sw.Error(errProcessMessage)
		return
	}
	if err = sw.Finish(); err != nil {
		h.log.Warn("failed to finish stream", slog.String("stage", stage), slog.Any("error", err))
	}
}

func (h Handler) fail(w http.ResponseWriter, stage, msg string, status int, err error) {
	h.log.Error("failed to answer chat message", slog.String("stage", stage), slog.String("response", msg), slog.Any("error", err))
	writeError(w, msg, status)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	respond.WithJSON(w, models.ErrorResponse{Error: msg}, status)
}

var errTrailingData = errors.New("unexpected data after request body")

// decodeRequest reads exactly one JSON value from the body.
func decodeRequest(body io.Reader) (req models.ChatPostRequest, err error) {
	dec := json.NewDecoder(body)
	if err = dec.Decode(&req); err != nil {
		return req, err
	}
	if _, err = dec.Token(); err != io.EOF {
		return req, errTrailingData
	}
	return req, nil
}

var errNoMessages = errors.New("no messages")

// parseMessages splits the conversation into history and the latest question.
func parseMessages(msgs []models.UIMessage) (history []models.ChatMessage, question string, err error) {
	if len(msgs) == 0 {
		return nil, "", errNoMessages
	}
	history = make([]models.ChatMessage, 0, len(msgs)-1)
	for i, m := range msgs {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			return nil, "", fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		history = append(history, models.ChatMessage{Role: m.Role, Content: m.Text()})
	}
	last := history[len(history)-1]
	if last.Role != models.RoleUser {
		return nil, "", fmt.Errorf("last message must have role %q, got %q", models.RoleUser, last.Role)
	}
	if strings.TrimSpace(last.Content) == "" {
		return nil, "", errors.New("last message has no text")
	}
	return history[:len(history)-1], last.Content, nil
}
