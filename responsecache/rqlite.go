package responsecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// ResponseStore is implemented by db.Queries.
type ResponseStore interface {
	ResponseCacheGet(ctx context.Context, key string) (response string, ok bool, err error)
	ResponseCachePut(ctx context.Context, key, response string, createdAt time.Time) error
}

func NewRqlite(log *slog.Logger, store ResponseStore) *Rqlite {
	return &Rqlite{
		log:   log,
		store: store,
		now:   time.Now,
	}
}

// Rqlite stores responses in the llm_response_cache table.
type Rqlite struct {
	log   *slog.Logger
	store ResponseStore
	now   func() time.Time
}

func (r *Rqlite) Get(ctx context.Context, key string) *llms.ContentResponse {
	data, ok, err := r.store.ResponseCacheGet(ctx, key)
	if err != nil {
		r.log.Warn("failed to read response cache", slog.String("backend", "rqlite"), slog.Any("error", err))
		return nil
	}
	if !ok {
		return nil
	}
	resp, err := unmarshal([]byte(data))
	if err != nil {
		r.log.Warn("failed to decode cached response", slog.String("backend", "rqlite"), slog.Any("error", err))
		return nil
	}
	return resp
}

func (r *Rqlite) Put(ctx context.Context, key string, response *llms.ContentResponse) {
	data, err := marshal(response)
	if err != nil {
		r.log.Warn("failed to encode response", slog.String("backend", "rqlite"), slog.Any("error", err))
		return
	}
	if err = r.store.ResponseCachePut(ctx, key, string(data), r.now()); err != nil {
		r.log.Warn("failed to write response cache", slog.String("backend", "rqlite"), slog.Any("error", err))
	}
}
