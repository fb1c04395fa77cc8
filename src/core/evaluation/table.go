package evaluation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"rageval/src/core/dataset"
)

// Table is the per-query evaluation dataframe with labeled columns
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable lays records out as rows. The number of rank columns is the
// longest retrieval among the records; shorter rows are padded with blanks.
func NewTable(records []Record) *Table {
	k := 0
	for _, r := range records {
		if len(r.Retrieved) > k {
			k = len(r.Retrieved)
		}
	}

	columns := []string{"query_id", "query", "response"}
	for i := 0; i < k; i++ {
		columns = append(columns,
			fmt.Sprintf("rank_%d_document_id", i),
			fmt.Sprintf("rank_%d_relevance", i),
		)
	}
	for i := 1; i <= k; i++ {
		columns = append(columns, fmt.Sprintf("precision@%d", i))
	}
	columns = append(columns, "error")

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{r.QueryID, r.Query, r.Response}
		for i := 0; i < k; i++ {
			var id, label string
			if i < len(r.Retrieved) {
				id = r.Retrieved[i].DocumentID
			}
			if i < len(r.Judgments) {
				label = r.Judgments[i].String()
			}
			row = append(row, id, label)
		}
		for i := 0; i < k; i++ {
			var p string
			if i < len(r.Precision) {
				p = strconv.FormatFloat(r.Precision[i], 'f', -1, 64)
			}
			row = append(row, p)
		}
		row = append(row, r.Error)
		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows}
}

// WriteCSV writes the header and rows as CSV
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

// Export is the JSON report of a run. Query and document embeddings are
// centered separately so both clouds share an origin when visualized.
type Export struct {
	Summary            Summary              `json:"summary"`
	Records            []Record             `json:"records"`
	QueryEmbeddings    map[string][]float32 `json:"query_embeddings,omitempty"`
	DocumentEmbeddings map[string][]float32 `json:"document_embeddings,omitempty"`
}

// NewExport builds the report. docs may be nil when only queries are exported;
// otherwise every retrieved document must belong to docs and a hit without
// content gets the text of its document.
func NewExport(records []Record, summary Summary, docs []dataset.Document) (*Export, error) {
	exp := &Export{Summary: summary, Records: make([]Record, len(records))}

	var corpus dataset.Index
	if docs != nil {
		corpus = dataset.NewIndex(docs)
	}

	var queryIDs []string
	var queryVecs [][]float32
	for i, r := range records {
		if len(r.QueryEmbedding) > 0 {
			queryIDs = append(queryIDs, r.QueryID)
			queryVecs = append(queryVecs, r.QueryEmbedding)
		}
		r.QueryEmbedding = nil
		if corpus != nil && len(r.Retrieved) > 0 {
			retrieved, err := resolveRetrieved(corpus, r.Retrieved)
			if err != nil {
				return nil, fmt.Errorf("query %s retrieved outside the corpus: %w", r.QueryID, err)
			}
			r.Retrieved = retrieved
		}
		exp.Records[i] = r
	}

	var err error
	if exp.QueryEmbeddings, err = centeredByID(queryIDs, queryVecs); err != nil {
		return nil, fmt.Errorf("failed to center query embeddings: %w", err)
	}

	var docIDs []string
	var docVecs [][]float32
	for _, d := range docs {
		if len(d.Embedding) > 0 {
			docIDs = append(docIDs, d.ID)
			docVecs = append(docVecs, d.Embedding)
		}
	}
	if exp.DocumentEmbeddings, err = centeredByID(docIDs, docVecs); err != nil {
		return nil, fmt.Errorf("failed to center document embeddings: %w", err)
	}

	return exp, nil
}

func resolveRetrieved(corpus dataset.Index, hits []Retrieved) ([]Retrieved, error) {
	out := make([]Retrieved, len(hits))
	for i, h := range hits {
		doc, err := corpus.Lookup(h.DocumentID)
		if err != nil {
			return nil, err
		}
		if h.Content == "" {
			h.Content = doc.Text
		}
		out[i] = h
	}
	return out, nil
}

func centeredByID(ids []string, vecs [][]float32) (map[string][]float32, error) {
	if len(vecs) == 0 {
		return nil, nil
	}
	centered, err := CenterEmbeddings(vecs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(ids))
	for i, id := range ids {
		out[id] = centered[i]
	}
	return out, nil
}

// WriteJSON writes the report as indented JSON
func (e *Export) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
