package weaviate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate/entities/models"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
)

// SearchMode selects how DocumentStore ranks documents
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeHybrid SearchMode = "hybrid"

	batchSize = 100
)

// StoreConfig selects the class of a DocumentStore and how it ranks documents
type StoreConfig struct {
	Class       string
	Mode        SearchMode
	MaxDistance float64 // vector mode only, 0 keeps every hit
}

// DocumentStore stores evaluation documents in one Weaviate class
type DocumentStore struct {
	sdk         *SDK
	className   string
	mode        SearchMode
	maxDistance float64
}

// NewDocumentStore creates a store over cfg.Class
func NewDocumentStore(sdk *SDK, cfg StoreConfig) (*DocumentStore, error) {
	if cfg.Class == "" {
		return nil, fmt.Errorf("weaviate class is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = SearchModeVector
	case SearchModeVector, SearchModeHybrid:
	default:
		return nil, fmt.Errorf("unknown search mode %q", cfg.Mode)
	}
	if cfg.MaxDistance < 0 {
		return nil, fmt.Errorf("max distance %v must not be negative", cfg.MaxDistance)
	}

	return &DocumentStore{
		sdk:         sdk,
		className:   cfg.Class,
		mode:        cfg.Mode,
		maxDistance: cfg.MaxDistance,
	}, nil
}

// RunClass names the class holding the documents of one queued run
func RunClass(base string, runID int64) string {
	return fmt.Sprintf("%s_%d", base, runID)
}

// ClassName returns the class the store reads and writes
func (s *DocumentStore) ClassName() string {
	return s.className
}

func documentProperties() []*models.Property {
	return []*models.Property{
		{
			Name:        "docId",
			DataType:    []string{"text"},
			Description: "ID of the source document",
		},
		{
			Name:        "content",
			DataType:    []string{"text"},
			Description: "The text of the document",
		},
	}
}

// Insert creates the class when missing and adds docs in batches
func (s *DocumentStore) Insert(ctx context.Context, docs []dataset.Document) error {
	if err := s.sdk.EnsureSchema(ctx, s.className, documentProperties(), "none"); err != nil {
		return err
	}

	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}

		objects := make([]VectorObject, 0, end-start)
		for _, d := range docs[start:end] {
			if len(d.Embedding) == 0 {
				return fmt.Errorf("document %s has no embedding", d.ID)
			}
			objects = append(objects, VectorObject{
				ID:     s.objectID(d.ID),
				Vector: d.Embedding,
				Properties: map[string]interface{}{
					"docId":   d.ID,
					"content": d.Text,
				},
			})
		}

		if err := s.sdk.BatchAddVectors(ctx, s.className, objects); err != nil {
			return fmt.Errorf("failed to insert documents %d-%d: %w", start, end, err)
		}
	}

	return nil
}

// objectID derives a stable UUID so ingesting a document twice replaces it
func (s *DocumentStore) objectID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.className+"/"+docID)).String()
}

// Search returns the k documents closest to vector, or the k best hybrid
// matches of query and vector in hybrid mode
func (s *DocumentStore) Search(ctx context.Context, query string, vector []float32, k int) ([]evaluation.Retrieved, error) {
	fields := []string{"docId", "content"}

	var (
		results []QueryResult
		err     error
	)
	if s.mode == SearchModeHybrid {
		cfg := DefaultHybridConfig(query)
		cfg.Fields = fields
		cfg.Limit = k
		results, err = s.sdk.QueryHybrid(ctx, s.className, vector, cfg)
	} else {
		results, err = s.sdk.QueryVectors(ctx, s.className, vector, QueryConfig{
			Fields:   fields,
			Limit:    k,
			Distance: s.maxDistance,
		})
	}
	if err != nil {
		return nil, err
	}

	return toRetrieved(results), nil
}

// Reset drops the class and everything stored in it
func (s *DocumentStore) Reset(ctx context.Context) error {
	exists, err := s.sdk.ClassExists(ctx, s.className)
	if err != nil || !exists {
		return err
	}
	return s.sdk.DeleteSchema(ctx, s.className)
}

func toRetrieved(results []QueryResult) []evaluation.Retrieved {
	retrieved := make([]evaluation.Retrieved, len(results))
	for i, r := range results {
		docID, _ := r.Properties["docId"].(string)
		content, _ := r.Properties["content"].(string)
		retrieved[i] = evaluation.Retrieved{
			DocumentID: docID,
			Content:    content,
			Score:      r.Score,
			Rank:       i,
		}
	}
	return retrieved
}
