package evaluation

import (
	"context"

	"rageval/src/core/dataset"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatModel generates a completion for a system message and a prompt
type ChatModel interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// DocumentStore is the vector store the application under evaluation retrieves from
type DocumentStore interface {
	// Insert stores documents together with their embeddings
	Insert(ctx context.Context, docs []dataset.Document) error
	// Search returns up to k documents ordered by similarity, closest first
	Search(ctx context.Context, query string, vector []float32, k int) ([]Retrieved, error)
}

// Retrieved is one search hit. Rank 0 is the closest document.
type Retrieved struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}
