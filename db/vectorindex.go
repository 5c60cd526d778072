package db

import (
	"context"
	"fmt"

	"github.com/rqlite/gorqlite"
)

const vectorIndexName = "document_chunk_vec"

// VectorIndexDimension returns the dimension the chunk table was created with.
func (q *Queries) VectorIndexDimension(ctx context.Context) (dimension int, ok bool, err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query:     `select dimension from vector_index where name = ?`,
		Arguments: []any{vectorIndexName},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return 0, false, err
	}
	if !result.Next() {
		return 0, false, nil
	}
	var d int64
	if err = result.Scan(&d); err != nil {
		return 0, false, err
	}
	return int(d), true, nil
}

// VectorIndexCreate creates the sqlite-vec chunk table if it doesn't exist yet.
// The dimension can't be changed afterwards.
func (q *Queries) VectorIndexCreate(ctx context.Context, dimension int) (err error) {
	if dimension <= 0 {
		return fmt.Errorf("db: invalid vector dimension %d", dimension)
	}
	statements := []gorqlite.ParameterizedStatement{
		{
			Query: fmt.Sprintf(`create virtual table if not exists %s using vec0(
  document_rowid integer,
  partition text partition key,
  idx integer,
  +text text,
  embedding float[%d] distance_metric=cosine
)`, vectorIndexName, dimension),
		},
		{
			Query:     `insert into vector_index (name, dimension) values (?, ?) on conflict(name) do nothing`,
			Arguments: []any{vectorIndexName, dimension},
		},
	}
	_, err = q.conn.WriteParameterizedContext(ctx, statements)
	return err
}
