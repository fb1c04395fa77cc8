package dataset

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Split breaks every document into chunks of at most size characters with the
// given overlap. Chunks get ids of the form "<docID>-<n>" and no embedding.
// A size of zero returns docs unchanged.
func Split(docs []Document, size, overlap int) ([]Document, error) {
	if size <= 0 {
		return docs, nil
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)

	chunks := make([]Document, 0, len(docs))
	for _, doc := range docs {
		parts, err := splitter.SplitText(doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split document %s: %w", doc.ID, err)
		}
		for n, part := range parts {
			chunks = append(chunks, Document{
				ID:   fmt.Sprintf("%s-%d", doc.ID, n),
				Text: part,
			})
		}
	}

	return chunks, nil
}
