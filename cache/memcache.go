package cache

import (
	"context"

	"github.com/nci/gomemcache/memcache"
)

// MemcacheBackend shares chunks across service instances through
// memcached.
type MemcacheBackend struct {
	mc      *memcache.Client
	expires int32
}

func NewMemcacheBackend(expirySeconds int32, servers ...string) *MemcacheBackend {
	return &MemcacheBackend{mc: memcache.New(servers...), expires: expirySeconds}
}

func (b *MemcacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := b.mc.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (b *MemcacheBackend) Set(ctx context.Context, key string, val []byte) error {
	return b.mc.Set(&memcache.Item{Key: key, Value: val, Expiration: b.expires})
}
