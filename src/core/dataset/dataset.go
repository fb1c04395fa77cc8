// Package dataset loads the document corpus and the query set an evaluation runs over.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"rageval/src/infrastructure/apperr"
)

// Document is one retrievable item of the corpus. Embedding may be empty,
// in which case it is computed during ingestion.
type Document struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Query is one question the application under evaluation has to answer.
type Query struct {
	ID   string `json:"id"`
	Text string `json:"query"`
}

type documentRow struct {
	ID        string    `parquet:"id,optional"`
	Text      string    `parquet:"text"`
	Embedding []float32 `parquet:"embedding,list"`
}

type queryRow struct {
	ID   string `parquet:"id,optional"`
	Text string `parquet:"query"`
}

const maxLineSize = 4 * 1024 * 1024

type format int

const (
	formatJSON format = iota
	formatJSONL
	formatParquet
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".jsonl", ".ndjson":
		return formatJSONL, nil
	case ".parquet":
		return formatParquet, nil
	default:
		return 0, apperr.Newf(apperr.InvalidArgument, "unsupported dataset file %q: expected .json, .jsonl, .ndjson or .parquet", path)
	}
}

// LoadDocuments reads a corpus file. The decoder is chosen by file extension.
func LoadDocuments(path string) ([]Document, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var docs []Document
	switch f {
	case formatParquet:
		rows, err := parquet.ReadFile[documentRow](path)
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
		}
		docs = make([]Document, len(rows))
		for i, row := range rows {
			docs[i] = Document{ID: row.ID, Text: row.Text, Embedding: row.Embedding}
		}
	default:
		docs, err = decodeFile[Document](path, f)
		if err != nil {
			return nil, err
		}
	}

	return normalizeDocuments(docs)
}

// LoadQueries reads a query file. The decoder is chosen by file extension.
func LoadQueries(path string) ([]Query, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var queries []Query
	switch f {
	case formatParquet:
		rows, err := parquet.ReadFile[queryRow](path)
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
		}
		queries = make([]Query, len(rows))
		for i, row := range rows {
			queries[i] = Query{ID: row.ID, Text: row.Text}
		}
	default:
		queries, err = decodeFile[Query](path, f)
		if err != nil {
			return nil, err
		}
	}

	return normalizeQueries(queries)
}

func decodeFile[T any](path string, f format) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	if f == formatJSONL {
		return DecodeLines[T](file)
	}

	var items []T
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, fmt.Sprintf("failed to parse JSON in %s", path), err)
	}
	return items, nil
}

// DecodeLines decodes one JSON value per line, skipping blank lines.
func DecodeLines[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var items []T
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, apperr.Wrap(apperr.InvalidArgument, fmt.Sprintf("failed to parse line %d", line), err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lines: %w", err)
	}

	return items, nil
}

func normalizeDocuments(docs []Document) ([]Document, error) {
	seen := make(map[string]int, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = strconv.Itoa(i)
		}
		if strings.TrimSpace(docs[i].Text) == "" {
			return nil, apperr.Newf(apperr.InvalidArgument, "document %d (%s) has empty text", i, docs[i].ID)
		}
		if prev, ok := seen[docs[i].ID]; ok {
			return nil, apperr.Newf(apperr.InvalidArgument, "duplicate document id %q at rows %d and %d", docs[i].ID, prev, i)
		}
		seen[docs[i].ID] = i
	}
	return docs, nil
}

func normalizeQueries(queries []Query) ([]Query, error) {
	for i := range queries {
		if queries[i].ID == "" {
			queries[i].ID = strconv.Itoa(i)
		}
		if strings.TrimSpace(queries[i].Text) == "" {
			return nil, apperr.Newf(apperr.InvalidArgument, "query %d (%s) is empty", i, queries[i].ID)
		}
	}
	return queries, nil
}

// Index looks documents up by id.
type Index map[string]Document

// NewIndex builds an Index over docs.
func NewIndex(docs []Document) Index {
	idx := make(Index, len(docs))
	for _, d := range docs {
		idx[d.ID] = d
	}
	return idx
}

// Lookup returns the document with the given id.
func (idx Index) Lookup(id string) (Document, error) {
	d, ok := idx[id]
	if !ok {
		return Document{}, apperr.Newf(apperr.NotFound, "document %q not found", id)
	}
	return d, nil
}
