package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rqlite/gorqlite"
)

func New(conn *gorqlite.Connection) *Queries {
	return &Queries{
		conn: conn,
	}
}

type Queries struct {
	conn *gorqlite.Connection
}

// DocumentID identifies a page. Partition is the vector index namespace.
type DocumentID struct {
	Partition string
	URL       string
}

func (d DocumentID) String() string {
	return fmt.Sprintf("%s:%s", d.Partition, d.URL)
}

type Document struct {
	DocumentID
	Title         string
	Text          string
	Summary       string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

type Chunk struct {
	Text      string
	Embedding []float32
}

type DocumentPutArgs struct {
	Document Document
	Chunks   []Chunk
}

func (q *Queries) documentUpsertRowID(ctx context.Context, d Document) (rowID int64, err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query: `insert into document (id, partition, url, title, summary, created_at, last_updated_at)
values (?, ?, ?, ?, ?, ?, ?)
on conflict(id) do update
set
    title = excluded.title,
    summary = excluded.summary,
    last_updated_at = excluded.last_updated_at
`,
		Arguments: []any{d.DocumentID.String(), d.Partition, d.URL, d.Title, d.Summary, d.CreatedAt, d.LastUpdatedAt},
	}
	if _, err = q.conn.WriteOneParameterizedContext(ctx, stmt); err != nil {
		return 0, err
	}

	stmt = gorqlite.ParameterizedStatement{
		Query:     `select rowid from document where id = ?`,
		Arguments: []any{d.DocumentID.String()},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	if !result.Next() {
		return 0, fmt.Errorf("db: expected a row ID for %s", d.DocumentID)
	}
	err = result.Scan(&rowID)
	return rowID, err
}

// DocumentPut inserts or replaces a document and all of its chunks.
func (q *Queries) DocumentPut(ctx context.Context, args DocumentPutArgs) (id int64, err error) {
	id, err = q.documentUpsertRowID(ctx, args.Document)
	if err != nil {
		return id, fmt.Errorf("db: failed to upsert document: %w", err)
	}
	if id == 0 {
		return id, fmt.Errorf("db: expected a non-zero row ID")
	}

	statements := make([]gorqlite.ParameterizedStatement, 0, len(args.Chunks)+2)
	statements = append(statements, gorqlite.ParameterizedStatement{
		Query:     `delete from document_chunk_vec where document_rowid = ?`,
		Arguments: []any{id},
	})
	for chunkIndex, chunk := range args.Chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return id, fmt.Errorf("db: failed to marshal embedding: %w", err)
		}
		statements = append(statements, gorqlite.ParameterizedStatement{
			Query:     `insert into document_chunk_vec (document_rowid, partition, idx, text, embedding) values (?, ?, ?, ?, ?)`,
			Arguments: []any{id, args.Document.Partition, chunkIndex, chunk.Text, string(embeddingJSON)},
		})
	}
	statements = append(statements, gorqlite.ParameterizedStatement{
		Query:     `insert or replace into document_fts (rowid, partition, url, title, text, summary) values (?, ?, ?, ?, ?, ?)`,
		Arguments: []any{id, args.Document.Partition, args.Document.URL, args.Document.Title, args.Document.Text, args.Document.Summary},
	})
	if _, err = q.conn.WriteParameterizedContext(ctx, statements); err != nil {
		return id, fmt.Errorf("db: failed to write chunks: %w", err)
	}
	return id, nil
}

func (q *Queries) DocumentDelete(ctx context.Context, args DocumentID) (err error) {
	statements := []gorqlite.ParameterizedStatement{
		{
			Query:     `delete from document_chunk_vec where document_rowid in (select rowid from document where partition = ? and url = ?)`,
			Arguments: []any{args.Partition, args.URL},
		},
		{
			Query:     `delete from document_fts where rowid in (select rowid from document where partition = ? and url = ?)`,
			Arguments: []any{args.Partition, args.URL},
		},
		{
			Query:     `delete from document where partition = ? and url = ?`,
			Arguments: []any{args.Partition, args.URL},
		},
	}
	_, err = q.conn.WriteParameterizedContext(ctx, statements)
	return err
}

func (q *Queries) DocumentGet(ctx context.Context, args DocumentID) (doc Document, ok bool, err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query:     "select document.partition, document.url, document.title, document_fts.text, document.summary, document.created_at, document.last_updated_at from document_fts inner join document on document.rowid = document_fts.rowid where document_fts.partition = ? and document_fts.url = ?",
		Arguments: []any{args.Partition, args.URL},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return Document{}, false, err
	}
	if !result.Next() {
		return Document{}, false, nil
	}
	if err = result.Scan(&doc.Partition, &doc.URL, &doc.Title, &doc.Text, &doc.Summary, &doc.CreatedAt, &doc.LastUpdatedAt); err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

type DocumentNearestArgs struct {
	Partition string
	Embedding []float32
	Limit     int
}

type DocumentNearestResult struct {
	Index    int64
	Text     string
	Distance float64
	URL      string
	Title    string
	Summary  string
}

// DocumentNearest returns the chunks closest to the embedding by cosine distance.
func (q *Queries) DocumentNearest(ctx context.Context, args DocumentNearestArgs) (chunks []DocumentNearestResult, err error) {
	inputEmbeddingJSON, err := json.Marshal(args.Embedding)
	if err != nil {
		return chunks, fmt.Errorf("db: failed to marshal input embedding: %w", err)
	}
	stmt := gorqlite.ParameterizedStatement{
		Query: `with nearest as (
  select document_rowid, idx, text, distance
  from document_chunk_vec
  where partition = ? and embedding match ? and k = ?
)
select
  n.idx,
  n.text,
  n.distance,
  d.url,
  d.title,
  d.summary
from nearest n
left join document d on d.rowid = n.document_rowid
order by n.distance asc;`,
		Arguments: []any{args.Partition, string(inputEmbeddingJSON), args.Limit},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return chunks, err
	}
	for result.Next() {
		var c DocumentNearestResult
		if err = result.Scan(&c.Index, &c.Text, &c.Distance, &c.URL, &c.Title, &c.Summary); err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
