package evaluation_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"rageval/src/core/evaluation"
)

type mapCache struct {
	data    map[string][]float32
	failGet bool
}

func (m *mapCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if m.failGet {
		return nil, false, errors.New("redis down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, vector []float32) error {
	m.data[key] = vector
	return nil
}

func TestCachedEmbedder(t *testing.T) {
	inner := &fakeEmbedder{}
	cache := &mapCache{data: map[string][]float32{}}
	emb := evaluation.NewCachedEmbedder(inner, cache, "nomic-embed-text")
	ctx := context.Background()

	first, err := emb.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := emb.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached vector = %v, want %v", second, first)
	}
	if inner.callCount() != 1 {
		t.Errorf("inner embedder called %d times, want 1", inner.callCount())
	}
	if _, ok := cache.data[evaluation.CacheKey("nomic-embed-text", "hello")]; !ok {
		t.Errorf("cache has no entry for the embedded text")
	}

	cache.failGet = true
	if _, err := emb.Embed(ctx, "hello"); err != nil {
		t.Errorf("Embed() with failing cache error = %v, want nil", err)
	}
	if inner.callCount() != 2 {
		t.Errorf("inner embedder called %d times, want 2", inner.callCount())
	}
}

func TestCacheKeyNamespacesModels(t *testing.T) {
	if evaluation.CacheKey("a", "text") == evaluation.CacheKey("b", "text") {
		t.Errorf("CacheKey() is equal across models")
	}
}
