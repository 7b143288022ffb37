package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUBackend is an in-process chunk store bounded by entry count.
type LRUBackend struct {
	c *lru.Cache[string, []byte]
}

func NewLRUBackend(size int) (*LRUBackend, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &LRUBackend{c: c}, nil
}

func (b *LRUBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := b.c.Get(key)
	return val, ok, nil
}

func (b *LRUBackend) Set(ctx context.Context, key string, val []byte) error {
	b.c.Add(key, val)
	return nil
}
