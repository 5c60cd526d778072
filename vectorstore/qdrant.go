package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/a-h/jsonapi"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

func NewQdrant(rawURL, apiKey, collection, namespace string, embedder embeddings.Embedder) (*Qdrant, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid Qdrant URL: %w", err)
	}
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: Qdrant collection name is required")
	}
	return &Qdrant{
		url:        *u,
		apiKey:     apiKey,
		collection: collection,
		namespace:  namespace,
		embedder:   embedder,
	}, nil
}

// Qdrant is a collection in a Qdrant server. Search and upsert use the langchaingo store,
// collection management talks to the REST API directly.
type Qdrant struct {
	url        url.URL
	apiKey     string
	collection string
	namespace  string
	embedder   embeddings.Embedder
	dimension  int
}

var _ Index = (*Qdrant)(nil)

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCollectionInfo struct {
	Result struct {
		Status string `json:"status"`
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type qdrantCreateCollection struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantDeletePoints struct {
	Filter qdrantFilter `json:"filter"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value any `json:"value"`
	} `json:"match"`
}

func newQdrantCondition(key string, value any) (c qdrantCondition) {
	c.Key = key
	c.Match.Value = value
	return c
}

func (q *Qdrant) filter(extra ...qdrantCondition) (f qdrantFilter) {
	if q.namespace != "" {
		f.Must = append(f.Must, newQdrantCondition(MetadataNamespace, q.namespace))
	}
	f.Must = append(f.Must, extra...)
	return f
}

func (q *Qdrant) request(ctx context.Context, method string, body any, query url.Values, path ...string) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(buf)
	}
	u := q.url.JoinPath(path...)
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return jsonapi.Raw(req, jsonapi.WithRequestHeader("api-key", q.apiKey))
}

func invalidStatus(res *http.Response) error {
	body, _ := io.ReadAll(res.Body)
	return jsonapi.InvalidStatusError{
		Status: res.StatusCode,
		Body:   string(body),
	}
}

// collectionDimension returns the vector size of the collection.
func (q *Qdrant) collectionDimension(ctx context.Context) (dimension int, found bool, err error) {
	res, err := q.request(ctx, http.MethodGet, nil, nil, "collections", q.collection)
	if err != nil {
		return 0, false, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if res.StatusCode != http.StatusOK {
		return 0, false, invalidStatus(res)
	}
	var info qdrantCollectionInfo
	if err = json.NewDecoder(res.Body).Decode(&info); err != nil {
		return 0, false, fmt.Errorf("failed to decode collection info: %w", err)
	}
	return info.Result.Config.Params.Vectors.Size, true, nil
}

func (q *Qdrant) Ensure(ctx context.Context, dimension int) error {
	current, found, err := q.collectionDimension(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: failed to get Qdrant collection: %w", err)
	}
	if !found {
		create := qdrantCreateCollection{Vectors: qdrantVectorParams{Size: dimension, Distance: "Cosine"}}
		res, err := q.request(ctx, http.MethodPut, create, nil, "collections", q.collection)
		if err != nil {
			return fmt.Errorf("vectorstore: failed to create Qdrant collection: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("vectorstore: failed to create Qdrant collection: %w", invalidStatus(res))
		}
		current = dimension
	}
	if err = checkDimension(current, dimension); err != nil {
		return err
	}
	q.dimension = dimension
	return nil
}

func (q *Qdrant) store() (qdrant.Store, error) {
	return qdrant.New(
		qdrant.WithURL(q.url),
		qdrant.WithAPIKey(q.apiKey),
		qdrant.WithCollectionName(q.collection),
		qdrant.WithEmbedder(q.embedder),
	)
}

func (q *Qdrant) Open(ctx context.Context) (vectorstores.VectorStore, error) {
	current, found, err := q.collectionDimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: Qdrant unavailable: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("vectorstore: Qdrant collection %q not found", q.collection)
	}
	if err = checkDimension(current, q.dimension); err != nil {
		return nil, err
	}
	store, err := q.store()
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to create Qdrant store: %w", err)
	}
	return qdrantStore{q: q, store: store}, nil
}

func (q *Qdrant) Put(ctx context.Context, page Page, texts []string) (ids []string, err error) {
	del := qdrantDeletePoints{Filter: q.filter(newQdrantCondition(MetadataURL, page.URL))}
	res, err := q.request(ctx, http.MethodPost, del, url.Values{"wait": []string{"true"}}, "collections", q.collection, "points", "delete")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to delete previous chunks: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vectorstore: failed to delete previous chunks: %w", invalidStatus(res))
	}
	if len(texts) == 0 {
		return nil, nil
	}
	docs := make([]schema.Document, len(texts))
	for i, text := range texts {
		docs[i] = schema.Document{PageContent: text, Metadata: page.metadata(q.namespace, i)}
	}
	store, err := q.store()
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to create Qdrant store: %w", err)
	}
	return store.AddDocuments(ctx, docs)
}

type qdrantStore struct {
	q     *Qdrant
	store qdrant.Store
}

func (s qdrantStore) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	return addDocuments(ctx, s.q, docs)
}

func (s qdrantStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	if f := s.q.filter(); len(f.Must) > 0 {
		options = append(options, vectorstores.WithFilters(f))
	}
	return s.store.SimilaritySearch(ctx, query, numDocuments, options...)
}
