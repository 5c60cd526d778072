package db

import (
	"context"
	"time"

	"github.com/rqlite/gorqlite"
)

func (q *Queries) ResponseCacheGet(ctx context.Context, key string) (response string, ok bool, err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query:     `select response from llm_response_cache where key = ?`,
		Arguments: []any{key},
	}
	result, err := q.conn.QueryOneParameterizedContext(ctx, stmt)
	if err != nil {
		return "", false, err
	}
	if !result.Next() {
		return "", false, nil
	}
	err = result.Scan(&response)
	return response, err == nil, err
}

// ResponseCachePut stores a response. Existing entries are left as they are.
func (q *Queries) ResponseCachePut(ctx context.Context, key, response string, createdAt time.Time) (err error) {
	stmt := gorqlite.ParameterizedStatement{
		Query:     `insert or ignore into llm_response_cache (key, response, created_at) values (?, ?, ?)`,
		Arguments: []any{key, response, createdAt},
	}
	_, err = q.conn.WriteOneParameterizedContext(ctx, stmt)
	return err
}
