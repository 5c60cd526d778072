package post

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat/auth"
	"github.com/a-h/sitechat/models"
	"github.com/a-h/sitechat/vectorstore"
	"github.com/tmc/langchaingo/textsplitter"
)

// Writer stores the chunks of a page, replacing any previous version.
type Writer interface {
	Put(ctx context.Context, page vectorstore.Page, chunks []string) (ids []string, err error)
}

func New(log *slog.Logger, writer Writer, splitter textsplitter.TextSplitter) Handler {
	if splitter == nil {
		splitter = textsplitter.NewMarkdownTextSplitter()
	}
	return Handler{
		log:      log,
		splitter: splitter,
		writer:   writer,
	}
}

type Handler struct {
	log      *slog.Logger
	splitter textsplitter.TextSplitter
	writer   Writer
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.DocumentsPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Document.URL) == "" {
		respond.WithError(w, "document url is required", http.StatusBadRequest)
		return
	}

	texts, err := h.split(req.Document)
	if err != nil {
		h.log.Error("failed to split text", slog.Any("error", err))
		respond.WithError(w, "failed to split text", http.StatusInternalServerError)
		return
	}

	page := vectorstore.Page{
		URL:     req.Document.URL,
		Title:   req.Document.Title,
		Summary: req.Document.Summary,
	}
	ids, err := h.writer.Put(r.Context(), page, texts)
	if err != nil {
		h.log.Error("document put failed", slog.String("url", page.URL), slog.Any("error", err))
		respond.WithError(w, "document put failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("document stored", slog.String("user", user), slog.String("url", page.URL), slog.Int("chunks", len(texts)))

	respond.WithJSON(w, models.DocumentsPostResponse{
		URL:    page.URL,
		Chunks: len(texts),
		IDs:    ids,
	}, http.StatusOK)
}

func (h *Handler) split(d models.Document) ([]string, error) {
	inputs := []string{d.Title, d.Text, d.Summary}
	outputs := make([][]string, len(inputs))
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for i := range inputs {
		go func(i int) {
			defer wg.Done()
			if strings.TrimSpace(inputs[i]) == "" {
				return
			}
			outputs[i], errs[i] = h.splitter.SplitText(inputs[i])
		}(i)
	}
	wg.Wait()
	return slices.Concat(outputs...), errors.Join(errs...)
}
