package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache fronts the verification read path and the fingerprint engine's
// embedding lookups. Only terminal state lands here: anchored lookup results
// and content keyed embeddings, both of which never change once written.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
}

const DefaultCacheSize = 2048

const (
	ProofKeyPrefix     = "proof/"
	EmbeddingKeyPrefix = "embedding/"
)

type LocalCache struct {
	*lru.Cache
}

func NewLocalCache(size uint64) (Cache, error) {
	cache, err := lru.New(int(size))
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		cache,
	}, nil
}

func (c *LocalCache) Get(key string) (interface{}, bool) {
	return c.Cache.Get(key)
}

func (c *LocalCache) Set(key string, value interface{}) {
	c.Cache.Add(key, value)
}
