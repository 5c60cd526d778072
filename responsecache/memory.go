package responsecache

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/tmc/langchaingo/llms"
)

// NewMemory creates an in-process backend holding at most maxEntries responses.
// Zero means no limit.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		lru: lru.New(maxEntries),
	}
}

type Memory struct {
	m   sync.Mutex
	lru *lru.Cache
}

func (c *Memory) Get(ctx context.Context, key string) *llms.ContentResponse {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	return v.(*llms.ContentResponse)
}

func (c *Memory) Put(ctx context.Context, key string, response *llms.ContentResponse) {
	c.m.Lock()
	defer c.m.Unlock()
	if _, exists := c.lru.Get(key); exists {
		return
	}
	c.lru.Add(key, response)
}

func (c *Memory) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.lru.Len()
}
