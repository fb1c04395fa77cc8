package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"rageval/src/infrastructure/log"
)

// EmbeddingCache stores vectors by key. A miss is reported with ok == false.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) (vector []float32, ok bool, err error)
	Set(ctx context.Context, key string, vector []float32) error
}

// CachedEmbedder serves repeated texts from a cache. Cache failures are
// logged and fall through to the wrapped embedder.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	model string
}

// NewCachedEmbedder wraps inner. model namespaces the keys so vectors of
// different models never mix.
func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, model: model}
}

// CacheKey returns the cache key for text under model
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)

	vec, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Error(err, "embedding cache lookup failed", "key", key)
	} else if ok {
		return vec, nil
	}

	vec, err = c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, vec); err != nil {
		log.Error(err, "embedding cache write failed", "key", key)
	}
	return vec, nil
}
