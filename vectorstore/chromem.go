package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// NewChromem opens an embedded index persisted under path. An empty path keeps the index
// in memory.
func NewChromem(path, collection, namespace string, embedder embeddings.Embedder) (*Chromem, error) {
	database := chromem.NewDB()
	if path != "" {
		var err error
		database, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: failed to open chromem database: %w", err)
		}
	}
	return &Chromem{
		db:         database,
		collection: collection,
		namespace:  namespace,
		embedder:   embedder,
	}, nil
}

// Chromem is an in-process index backed by chromem-go.
type Chromem struct {
	db         *chromem.DB
	collection string
	namespace  string
	embedder   embeddings.Embedder
	dimension  int
	col        *chromem.Collection
}

var _ Index = (*Chromem)(nil)

func (c *Chromem) embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.EmbedQuery(ctx, text)
}

func (c *Chromem) Ensure(ctx context.Context, dimension int) (err error) {
	c.col, err = c.db.GetOrCreateCollection(c.collection, nil, c.embed)
	if err != nil {
		return fmt.Errorf("vectorstore: failed to open chromem collection: %w", err)
	}
	if c.col.Count() > 0 {
		// Scoring fails if the stored vectors have a different length.
		probe := make([]float32, dimension)
		probe[0] = 1
		if _, err = c.col.QueryEmbedding(ctx, probe, 1, nil, nil); err != nil {
			return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
	}
	c.dimension = dimension
	return nil
}

func (c *Chromem) Open(ctx context.Context) (vectorstores.VectorStore, error) {
	if c.col == nil {
		return nil, fmt.Errorf("vectorstore: chromem collection %q has not been opened", c.collection)
	}
	return chromemStore{c}, nil
}

func (c *Chromem) where(extra map[string]string) map[string]string {
	where := map[string]string{}
	if c.namespace != "" {
		where[MetadataNamespace] = c.namespace
	}
	for k, v := range extra {
		where[k] = v
	}
	return where
}

func (c *Chromem) Put(ctx context.Context, page Page, texts []string) (ids []string, err error) {
	if c.col == nil {
		return nil, fmt.Errorf("vectorstore: chromem collection %q has not been opened", c.collection)
	}
	if err = c.col.Delete(ctx, c.where(map[string]string{MetadataURL: page.URL}), nil); err != nil {
		return nil, fmt.Errorf("vectorstore: failed to delete previous chunks: %w", err)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	docs := make([]chromem.Document, len(texts))
	ids = make([]string, len(texts))
	for i, text := range texts {
		ids[i] = fmt.Sprintf("%s:%s#%d", c.namespace, page.URL, i)
		metadata := map[string]string{}
		for k, v := range page.metadata(c.namespace, i) {
			metadata[k] = fmt.Sprint(v)
		}
		docs[i] = chromem.Document{
			ID:       ids[i],
			Metadata: metadata,
			Content:  text,
		}
	}
	// One embedding call at a time.
	if err = c.col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("vectorstore: failed to add chunks: %w", err)
	}
	return ids, nil
}

type chromemStore struct {
	c *Chromem
}

func (s chromemStore) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	return addDocuments(ctx, s.c, docs)
}

func (s chromemStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := getOptions(options)
	n := min(numDocuments, s.c.col.Count())
	if n <= 0 {
		return nil, nil
	}
	where := s.c.where(nil)
	if opts.NameSpace != "" {
		where[MetadataNamespace] = opts.NameSpace
	}
	embedding, err := s.c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.c.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search failed: %w", err)
	}
	docs := make([]schema.Document, len(results))
	for i, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		if chunk, err := strconv.Atoi(r.Metadata[MetadataChunk]); err == nil {
			metadata[MetadataChunk] = chunk
		}
		docs[i] = schema.Document{
			PageContent: r.Content,
			Metadata:    metadata,
			Score:       r.Similarity,
		}
	}
	return filterByScore(docs, opts.ScoreThreshold), nil
}
