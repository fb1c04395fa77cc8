package evaluation_test

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
	"rageval/src/core/relevance"
	"rageval/src/infrastructure/apperr"
)

func sampleRecords() []evaluation.Record {
	return []evaluation.Record{
		{
			QueryID:        "1",
			Query:          "what is phoenix?",
			Response:       "an observability tool",
			Retrieved:      hits("alpha", "beta"),
			Judgments:      []relevance.Judgment{relevance.Relevant, relevance.Unknown},
			Precision:      []float64{1, 0.5},
			QueryEmbedding: []float32{1, 1},
		},
		{
			QueryID:        "2",
			Query:          "how, exactly?",
			Error:          "failed to embed query",
			QueryEmbedding: nil,
		},
		{
			QueryID:        "3",
			Query:          "third",
			Retrieved:      hits("gamma"),
			Judgments:      []relevance.Judgment{relevance.Irrelevant},
			Precision:      []float64{0},
			QueryEmbedding: []float32{3, 5},
		},
	}
}

func TestNewTable(t *testing.T) {
	table := evaluation.NewTable(sampleRecords())

	wantColumns := []string{
		"query_id", "query", "response",
		"rank_0_document_id", "rank_0_relevance",
		"rank_1_document_id", "rank_1_relevance",
		"precision@1", "precision@2", "error",
	}
	if !reflect.DeepEqual(table.Columns, wantColumns) {
		t.Errorf("Columns = %v, want %v", table.Columns, wantColumns)
	}

	wantRows := [][]string{
		{"1", "what is phoenix?", "an observability tool", "doc-alpha", "relevant", "doc-beta", "unknown", "1", "0.5", ""},
		{"2", "how, exactly?", "", "", "", "", "", "", "", "failed to embed query"},
		{"3", "third", "", "doc-gamma", "irrelevant", "", "", "0", "", ""},
	}
	if !reflect.DeepEqual(table.Rows, wantRows) {
		t.Errorf("Rows = %v, want %v", table.Rows, wantRows)
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("WriteCSV() wrote %d lines, want 4", len(lines))
	}
	if !strings.Contains(lines[2], `"how, exactly?"`) {
		t.Errorf("WriteCSV() did not quote a field with a comma: %s", lines[2])
	}
}

func TestNewExport(t *testing.T) {
	records := sampleRecords()
	docs := []dataset.Document{
		{ID: "doc-alpha", Embedding: []float32{0, 4}},
		{ID: "doc-beta", Embedding: []float32{2, 0}},
		{ID: "doc-gamma"},
	}

	exp, err := evaluation.NewExport(records, evaluation.Summarize(records), docs)
	if err != nil {
		t.Fatalf("NewExport() error = %v", err)
	}

	wantQueries := map[string][]float32{"1": {-1, -2}, "3": {1, 2}}
	if !reflect.DeepEqual(exp.QueryEmbeddings, wantQueries) {
		t.Errorf("QueryEmbeddings = %v, want %v", exp.QueryEmbeddings, wantQueries)
	}
	wantDocs := map[string][]float32{"doc-alpha": {-1, 2}, "doc-beta": {1, -2}}
	if !reflect.DeepEqual(exp.DocumentEmbeddings, wantDocs) {
		t.Errorf("DocumentEmbeddings = %v, want %v", exp.DocumentEmbeddings, wantDocs)
	}
	for _, r := range exp.Records {
		if r.QueryEmbedding != nil {
			t.Errorf("record %s still carries its raw embedding", r.QueryID)
		}
	}
	if records[0].QueryEmbedding == nil {
		t.Errorf("NewExport() mutated its input")
	}

	var buf bytes.Buffer
	if err := exp.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var decoded struct {
		Summary evaluation.Summary `json:"summary"`
		Records []struct {
			Judgments []string `json:"judgments"`
		} `json:"records"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Summary.Failed != 1 {
		t.Errorf("summary.failed = %d, want 1", decoded.Summary.Failed)
	}
	if got := decoded.Records[0].Judgments; !reflect.DeepEqual(got, []string{"relevant", "unknown"}) {
		t.Errorf("records[0].judgments = %v", got)
	}
}

func TestNewExportResolvesRetrieved(t *testing.T) {
	docs := []dataset.Document{
		{ID: "d1", Text: "centroids are means"},
		{ID: "d2", Text: "it rained today"},
	}

	tests := []struct {
		name      string
		retrieved []evaluation.Retrieved
		want      []evaluation.Retrieved
		wantKind  apperr.Kind
	}{
		{
			name:      "fills missing content",
			retrieved: []evaluation.Retrieved{{DocumentID: "d2", Rank: 0}, {DocumentID: "d1", Content: "kept", Rank: 1}},
			want:      []evaluation.Retrieved{{DocumentID: "d2", Content: "it rained today", Rank: 0}, {DocumentID: "d1", Content: "kept", Rank: 1}},
		},
		{
			name:      "document of another corpus",
			retrieved: []evaluation.Retrieved{{DocumentID: "d1"}, {DocumentID: "0"}},
			wantKind:  apperr.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []evaluation.Record{{QueryID: "q1", Retrieved: tt.retrieved}}
			exp, err := evaluation.NewExport(records, evaluation.Summarize(records), docs)
			if tt.wantKind != "" {
				if !apperr.Is(err, tt.wantKind) {
					t.Fatalf("NewExport() error = %v, want %s", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewExport() error = %v", err)
			}
			if !reflect.DeepEqual(exp.Records[0].Retrieved, tt.want) {
				t.Errorf("Retrieved = %+v, want %+v", exp.Records[0].Retrieved, tt.want)
			}
			if records[0].Retrieved[0].Content != "" {
				t.Errorf("NewExport() mutated its input")
			}
		})
	}
}
