package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/a-h/sitechat/db"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// RqliteQueries is implemented by db.Queries.
type RqliteQueries interface {
	VectorIndexDimension(ctx context.Context) (dimension int, ok bool, err error)
	VectorIndexCreate(ctx context.Context, dimension int) error
	DocumentPut(ctx context.Context, args db.DocumentPutArgs) (id int64, err error)
	DocumentNearest(ctx context.Context, args db.DocumentNearestArgs) ([]db.DocumentNearestResult, error)
}

func NewRqlite(queries RqliteQueries, embedder embeddings.Embedder, namespace string) *Rqlite {
	return &Rqlite{
		queries:   queries,
		embedder:  embedder,
		namespace: namespace,
		now:       time.Now,
	}
}

// Rqlite is a sqlite-vec index stored in rqlite. The namespace is the partition key.
type Rqlite struct {
	queries   RqliteQueries
	embedder  embeddings.Embedder
	namespace string
	dimension int
	now       func() time.Time
}

var _ Index = (*Rqlite)(nil)

func (r *Rqlite) Ensure(ctx context.Context, dimension int) error {
	current, ok, err := r.queries.VectorIndexDimension(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: failed to read index dimension: %w", err)
	}
	if !ok {
		if err = r.queries.VectorIndexCreate(ctx, dimension); err != nil {
			return fmt.Errorf("vectorstore: failed to create index: %w", err)
		}
		current = dimension
	}
	if err = checkDimension(current, dimension); err != nil {
		return err
	}
	r.dimension = dimension
	return nil
}

// Open checks that rqlite is reachable and the index matches the dimension given to Ensure.
func (r *Rqlite) Open(ctx context.Context) (vectorstores.VectorStore, error) {
	current, ok, err := r.queries.VectorIndexDimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: rqlite unavailable: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("vectorstore: rqlite index has not been created")
	}
	if err = checkDimension(current, r.dimension); err != nil {
		return nil, err
	}
	return rqliteStore{r}, nil
}

func (r *Rqlite) Put(ctx context.Context, page Page, texts []string) (ids []string, err error) {
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("vectorstore: expected %d embeddings, got %d", len(texts), len(vectors))
	}
	chunks := make([]db.Chunk, len(texts))
	for i := range texts {
		chunks[i] = db.Chunk{Text: texts[i], Embedding: vectors[i]}
	}
	now := r.now()
	id := db.DocumentID{Partition: r.namespace, URL: page.URL}
	if _, err = r.queries.DocumentPut(ctx, db.DocumentPutArgs{
		Document: db.Document{
			DocumentID:    id,
			Title:         page.Title,
			Text:          strings.Join(texts, "\n"),
			Summary:       page.Summary,
			CreatedAt:     now,
			LastUpdatedAt: now,
		},
		Chunks: chunks,
	}); err != nil {
		return nil, fmt.Errorf("vectorstore: failed to put document: %w", err)
	}
	ids = make([]string, len(texts))
	for i := range texts {
		ids[i] = fmt.Sprintf("%s#%d", id, i)
	}
	return ids, nil
}

type rqliteStore struct {
	r *Rqlite
}

func (s rqliteStore) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	return addDocuments(ctx, s.r, docs)
}

func (s rqliteStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := getOptions(options)
	partition := s.r.namespace
	if opts.NameSpace != "" {
		partition = opts.NameSpace
	}
	embedding, err := s.r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	nearest, err := s.r.queries.DocumentNearest(ctx, db.DocumentNearestArgs{
		Partition: partition,
		Embedding: embedding,
		Limit:     numDocuments,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search failed: %w", err)
	}
	docs := make([]schema.Document, len(nearest))
	for i, n := range nearest {
		page := Page{URL: n.URL, Title: n.Title, Summary: n.Summary}
		docs[i] = schema.Document{
			PageContent: n.Text,
			Metadata:    page.metadata(partition, int(n.Index)),
			// Cosine distance is in [0, 2].
			Score: float32(1 - n.Distance),
		}
	}
	return filterByScore(docs, opts.ScoreThreshold), nil
}
