// Package vectorstore provides the vector indexes that hold embedded page chunks.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// ErrDimensionMismatch is returned when the index was built for a different embedding size.
// It is a configuration error: the index must be rebuilt or the embedding model changed.
var ErrDimensionMismatch = errors.New("vectorstore: embedding dimension does not match the index")

// Opener acquires a handle to the vector index for the duration of a request.
type Opener interface {
	Open(ctx context.Context) (vectorstores.VectorStore, error)
}

type OpenerFunc func(ctx context.Context) (vectorstores.VectorStore, error)

func (f OpenerFunc) Open(ctx context.Context) (vectorstores.VectorStore, error) {
	return f(ctx)
}

// Index is a vector index that can be prepared at startup and written to by ingestion.
type Index interface {
	Opener
	// Ensure creates the index if it's missing, and checks that it has the given dimension.
	Ensure(ctx context.Context, dimension int) error
	// Put replaces the chunks of a page.
	Put(ctx context.Context, page Page, chunks []string) (ids []string, err error)
}

// Page is a unit of site content, identified by its URL.
type Page struct {
	URL     string
	Title   string
	Summary string
}

// Metadata keys stored alongside each chunk.
const (
	MetadataURL       = "url"
	MetadataTitle     = "title"
	MetadataSummary   = "summary"
	MetadataChunk     = "chunk"
	MetadataNamespace = "namespace"
)

func (p Page) metadata(namespace string, chunk int) map[string]any {
	m := map[string]any{
		MetadataURL:   p.URL,
		MetadataTitle: p.Title,
		MetadataChunk: chunk,
	}
	if p.Summary != "" {
		m[MetadataSummary] = p.Summary
	}
	if namespace != "" {
		m[MetadataNamespace] = namespace
	}
	return m
}

func checkDimension(indexDimension, modelDimension int) error {
	if indexDimension != modelDimension {
		return fmt.Errorf("%w: index has %d, embedding model has %d", ErrDimensionMismatch, indexDimension, modelDimension)
	}
	return nil
}

// filterByScore drops documents below the threshold, if one is set.
func filterByScore(docs []schema.Document, threshold float32) []schema.Document {
	if threshold <= 0 {
		return docs
	}
	filtered := docs[:0]
	for _, d := range docs {
		if d.Score >= threshold {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func getOptions(options []vectorstores.Option) (opts vectorstores.Options) {
	for _, o := range options {
		o(&opts)
	}
	return opts
}

// pageFromMetadata groups documents being added through the VectorStore interface.
func pageFromMetadata(m map[string]any) Page {
	s := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	return Page{
		URL:     s(MetadataURL),
		Title:   s(MetadataTitle),
		Summary: s(MetadataSummary),
	}
}

// addDocuments stores documents through Put, one call per page, keeping the input order.
func addDocuments(ctx context.Context, index Index, docs []schema.Document) (ids []string, err error) {
	var order []Page
	chunks := map[Page][]string{}
	for _, d := range docs {
		p := pageFromMetadata(d.Metadata)
		if _, seen := chunks[p]; !seen {
			order = append(order, p)
		}
		chunks[p] = append(chunks[p], d.PageContent)
	}
	for _, p := range order {
		pageIDs, err := index.Put(ctx, p, chunks[p])
		if err != nil {
			return ids, err
		}
		ids = append(ids, pageIDs...)
	}
	return ids, nil
}
