package evaluation_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeChat answers QA prompts with a fixed string and relevance prompts by
// looking up the reference text in verdicts.
type fakeChat struct {
	verdicts map[string]string
	failOn   string
}

func (f *fakeChat) Complete(ctx context.Context, system, prompt string) (string, error) {
	if system == evaluation.QASystemMessage {
		return "answer", nil
	}
	for ref, verdict := range f.verdicts {
		if strings.Contains(prompt, "[Reference text]: "+ref+"\n") {
			if ref == f.failOn {
				return "", errors.New("judge timed out")
			}
			return verdict, nil
		}
	}
	return "NOT_PARSABLE", nil
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []dataset.Document
	results  map[string][]evaluation.Retrieved
}

func (f *fakeStore) Insert(ctx context.Context, docs []dataset.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, docs...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, query string, vector []float32, k int) ([]evaluation.Retrieved, error) {
	res := f.results[query]
	if len(res) > k {
		res = res[:k]
	}
	return res, nil
}

func hits(contents ...string) []evaluation.Retrieved {
	out := make([]evaluation.Retrieved, len(contents))
	for i, c := range contents {
		out[i] = evaluation.Retrieved{DocumentID: "doc-" + c, Content: c, Rank: i}
	}
	return out
}
