package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/bitfsorg/anchorstore/hasher"
)

// DefaultCacheEntries is the number of whole payloads kept by the read cache.
const DefaultCacheEntries = 128

// payloadCache is a bounded LRU of verified payloads keyed by digest key.
// A nil *payloadCache is a disabled cache.
type payloadCache struct {
	lru *lru.Cache
}

func newPayloadCache(entries int) (*payloadCache, error) {
	if entries <= 0 {
		return nil, nil
	}
	c, err := lru.New(entries)
	if err != nil {
		return nil, err
	}
	return &payloadCache{lru: c}, nil
}

// get returns a copy of the cached payload.
func (c *payloadCache) get(d hasher.Digest) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(string(d.Key()))
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v.([]byte)...), true
}

func (c *payloadCache) add(d hasher.Digest, payload []byte) {
	if c == nil {
		return
	}
	c.lru.Add(string(d.Key()), append([]byte(nil), payload...))
}

func (c *payloadCache) remove(d hasher.Digest) {
	if c == nil {
		return
	}
	c.lru.Remove(string(d.Key()))
}

func (c *payloadCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
