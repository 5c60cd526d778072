package post

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/a-h/respond"
	"github.com/a-h/sitechat/auth"
	"github.com/a-h/sitechat/models"
	"github.com/a-h/sitechat/vectorstore"
	"github.com/tmc/langchaingo/schema"
)

func New(log *slog.Logger, opener vectorstore.Opener, topK int) Handler {
	return Handler{
		log:    log,
		opener: opener,
		topK:   topK,
	}
}

type Handler struct {
	log    *slog.Logger
	opener vectorstore.Opener
	topK   int
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.ContextPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}

	var docs []schema.Document
	if req.Text != "" {
		store, err := h.opener.Open(r.Context())
		if err != nil {
			h.log.Error("failed to open vector store", slog.Any("error", err))
			respond.WithError(w, "failed to open vector store", http.StatusInternalServerError)
			return
		}
		docs, err = store.SimilaritySearch(r.Context(), req.Text, h.topK)
		if err != nil {
			h.log.Error("failed to find nearest documents", slog.Any("error", err))
			respond.WithError(w, "failed to find nearest documents", http.StatusInternalServerError)
			return
		}
	}
	h.log.Info("retrieved context", slog.String("user", user), slog.Int("results", len(docs)))

	resp := models.ContextPostResponse{
		Results: make([]models.ContextDocument, len(docs)),
	}
	for i, doc := range docs {
		url, _ := doc.Metadata[vectorstore.MetadataURL].(string)
		title, _ := doc.Metadata[vectorstore.MetadataTitle].(string)
		resp.Results[i] = models.ContextDocument{
			Text:     doc.PageContent,
			Score:    doc.Score,
			URL:      url,
			Title:    title,
			Metadata: doc.Metadata,
		}
	}

	respond.WithJSON(w, resp, http.StatusOK)
}
