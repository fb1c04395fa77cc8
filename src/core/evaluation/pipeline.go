// Package evaluation runs a retrieval-augmented QA application over a query
// set and scores its retrieval with LLM relevance judgments.
package evaluation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rageval/src/core/dataset"
	"rageval/src/core/relevance"
	"rageval/src/infrastructure/log"
)

const (
	DefaultTopK        = 2
	DefaultConcurrency = 4
)

// Config tunes a Pipeline
type Config struct {
	TopK              int     // documents retrieved and judged per query
	Concurrency       int     // queries evaluated at the same time
	RequestsPerSecond float64 // shared budget for model calls, 0 means unlimited
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Record is the outcome of evaluating one query
type Record struct {
	QueryID        string               `json:"query_id"`
	Query          string               `json:"query"`
	Response       string               `json:"response"`
	Retrieved      []Retrieved          `json:"retrieved"`
	Judgments      []relevance.Judgment `json:"judgments"`
	Precision      []float64            `json:"precision"`
	QueryEmbedding []float32            `json:"query_embedding,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Failed reports whether the query could not be scored
func (r Record) Failed() bool {
	return r.Error != ""
}

// Summary aggregates the records of a run
type Summary struct {
	Queries          int       `json:"queries"`
	Failed           int       `json:"failed"`
	UnknownJudgments int       `json:"unknown_judgments"`
	MeanPrecision    []float64 `json:"mean_precision"` // index k-1 holds mean precision@k
}

// Pipeline wires the application under evaluation to the relevance judge
type Pipeline struct {
	embedder   Embedder
	chat       ChatModel
	classifier *Classifier
	store      DocumentStore
	cfg        Config
	limiter    *rate.Limiter
}

// NewPipeline creates a Pipeline. judge may be the same model as chat.
func NewPipeline(embedder Embedder, chat, judge ChatModel, store DocumentStore, cfg Config) (*Pipeline, error) {
	switch {
	case embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case chat == nil:
		return nil, fmt.Errorf("chat model is required")
	case judge == nil:
		return nil, fmt.Errorf("judge model is required")
	case store == nil:
		return nil, fmt.Errorf("document store is required")
	}

	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Pipeline{
		embedder:   embedder,
		chat:       chat,
		classifier: NewClassifier(judge),
		store:      store,
		cfg:        cfg,
		limiter:    limiter,
	}, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Ingest embeds documents that have no vector yet and inserts all of them
// into the store. It returns the documents with their vectors filled in.
func (p *Pipeline) Ingest(ctx context.Context, docs []dataset.Document) ([]dataset.Document, error) {
	out := make([]dataset.Document, len(docs))
	copy(out, docs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range out {
		if len(out[i].Embedding) > 0 {
			continue
		}
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			vec, err := p.embedder.Embed(gctx, out[i].Text)
			if err != nil {
				return fmt.Errorf("failed to embed document %s: %w", out[i].ID, err)
			}
			out[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.store.Insert(ctx, out); err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", err)
	}

	log.Info("ingested documents", "count", len(out))
	return out, nil
}

// Run evaluates every query. Failures of a single query are kept on its
// record; only cancellation of ctx aborts the run. onRecord, if set, is
// called once per finished record and may be called concurrently.
func (p *Pipeline) Run(ctx context.Context, queries []dataset.Query, onRecord func(Record)) ([]Record, Summary, error) {
	records := make([]Record, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = p.evaluate(gctx, queries[i])
			if onRecord != nil {
				onRecord(records[i])
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, err
	}

	return records, Summarize(records), nil
}

func (p *Pipeline) evaluate(ctx context.Context, q dataset.Query) Record {
	rec := Record{QueryID: q.ID, Query: q.Text}
	logger := log.WithValues("query_id", q.ID)

	fail := func(err error) Record {
		if !errors.Is(err, context.Canceled) {
			logger.Error(err, "query evaluation failed")
		}
		rec.Error = err.Error()
		return rec
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fail(err)
	}
	vec, err := p.embedder.Embed(ctx, q.Text)
	if err != nil {
		return fail(fmt.Errorf("failed to embed query: %w", err))
	}
	rec.QueryEmbedding = vec

	retrieved, err := p.store.Search(ctx, q.Text, vec, p.cfg.TopK)
	if err != nil {
		return fail(fmt.Errorf("failed to retrieve documents: %w", err))
	}
	rec.Retrieved = retrieved

	prompt, err := render(qaPrompt, qaData{Query: q.Text, Documents: retrieved})
	if err != nil {
		return fail(err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fail(err)
	}
	rec.Response, err = p.chat.Complete(ctx, QASystemMessage, prompt)
	if err != nil {
		return fail(fmt.Errorf("failed to generate response: %w", err))
	}

	rec.Judgments = make([]relevance.Judgment, len(retrieved))
	for i, doc := range retrieved {
		if err := p.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
		judgment, raw, err := p.classifier.Classify(ctx, q.Text, doc.Content)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			// a judge failure leaves this rank without a judgment
			logger.Error(err, "relevance classification failed", "rank", i, "document_id", doc.DocumentID)
			judgment = relevance.Unknown
		} else if judgment == relevance.Unknown {
			logger.V(1).Info("judge answered outside the rails", "rank", i, "output", raw)
		}
		rec.Judgments[i] = judgment
	}

	rec.Precision, err = relevance.PrecisionAtK(rec.Judgments)
	if err != nil {
		return fail(fmt.Errorf("no documents retrieved: %w", err))
	}

	return rec
}

// Summarize aggregates records. Mean precision@k averages over the records
// that have a judgment at rank k-1.
func Summarize(records []Record) Summary {
	s := Summary{Queries: len(records)}

	var sums []float64
	var counts []int
	for _, r := range records {
		if r.Failed() {
			s.Failed++
			continue
		}
		s.UnknownJudgments += relevance.CountUnknown(r.Judgments)
		for k, p := range r.Precision {
			if k >= len(sums) {
				sums = append(sums, 0)
				counts = append(counts, 0)
			}
			sums[k] += p
			counts[k]++
		}
	}

	s.MeanPrecision = make([]float64, len(sums))
	for k := range sums {
		s.MeanPrecision[k] = sums[k] / float64(counts[k])
	}
	return s
}
