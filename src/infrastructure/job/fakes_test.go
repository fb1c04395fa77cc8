package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
	"rageval/src/core/relevance"
	"rageval/src/infrastructure/apperr"
	"rageval/src/infrastructure/job"
	"rageval/src/storage/postgres/evalrunctrl"
)

type memoryJobRepository struct {
	mu     sync.Mutex
	nextID int
	jobs   map[int]*job.Job
}

func newMemoryJobRepository() *memoryJobRepository {
	return &memoryJobRepository{jobs: make(map[int]*job.Job)}
}

func (r *memoryJobRepository) Create(ctx context.Context, taskType string, payload json.RawMessage) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	j := &job.Job{ID: r.nextID, TaskType: taskType, Payload: payload, Status: job.JobStatusPending}
	r.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (r *memoryJobRepository) Get(ctx context.Context, id int) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "job %d not found", id)
	}
	cp := *j
	return &cp, nil
}

func (r *memoryJobRepository) UpdateStatus(ctx context.Context, id int, status job.JobStatus, err *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "job %d not found", id)
	}
	j.Status = status
	j.Error = err
	if status == job.JobStatusRunning {
		j.Attempts++
	}
	return nil
}

func (r *memoryJobRepository) status(id int) job.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

type memoryRunStore struct {
	mu      sync.Mutex
	runs    map[int64]*evalrunctrl.EvaluationRun
	records map[int64][]evaluation.Record
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{
		runs:    make(map[int64]*evalrunctrl.EvaluationRun),
		records: make(map[int64][]evaluation.Record),
	}
}

func (s *memoryRunStore) CreateRun(ctx context.Context, in evalrunctrl.NewRun) (*evalrunctrl.EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &evalrunctrl.EvaluationRun{
		ID:            int64(len(s.runs) + 100),
		Status:        evalrunctrl.RunStatusPending,
		TopK:          in.TopK,
		Models:        in.Models,
		DocumentsPath: in.DocumentsPath,
		QueriesPath:   in.QueriesPath,
	}
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (s *memoryRunStore) get(id int64) (*evalrunctrl.EvaluationRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "evaluation run %d not found", id)
	}
	return run, nil
}

func (s *memoryRunStore) MarkRunning(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.Status = evalrunctrl.RunStatusRunning
	run.Error = ""
	return nil
}

func (s *memoryRunStore) SaveRecords(ctx context.Context, runID int64, records []evaluation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = records
	return nil
}

func (s *memoryRunStore) FinishRun(ctx context.Context, id int64, summary evaluation.Summary, csvObject, jsonObject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.Status = evalrunctrl.RunStatusCompleted
	run.Summary = &summary
	run.CSVObject = csvObject
	run.JSONObject = jsonObject
	return nil
}

func (s *memoryRunStore) FailRun(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.Status = evalrunctrl.RunStatusFailed
	run.Error = reason
	return nil
}

func (s *memoryRunStore) run(id int64) evalrunctrl.EvaluationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.runs[id]
}

type memoryObjects struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{buckets: make(map[string]bool), objects: make(map[string][]byte)}
}

func (m *memoryObjects) EnsureBucketExists(ctx context.Context, bucketName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucketName] = true
	return nil
}

func (m *memoryObjects) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucketName+"/"+objectName]
	if !ok {
		return nil, errors.New("failed to get object: The specified key does not exist.")
	}
	return data, nil
}

func (m *memoryObjects) PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucketName+"/"+objectName] = data
	return nil
}

// fakeEvaluator judges every query with one relevant then one irrelevant hit
type fakeEvaluator struct {
	ingested []dataset.Document
	runErr   error
	resets   int

	// onReset runs before a reset is counted
	onReset func()
}

func (f *fakeEvaluator) Reset(ctx context.Context) error {
	if f.onReset != nil {
		f.onReset()
	}
	f.resets++
	f.ingested = nil
	return nil
}

// evaluatorFor hands out the same evaluator for every run
func evaluatorFor(f *fakeEvaluator) job.EvaluatorFactory {
	return func(runID int64) (job.RunEvaluator, error) {
		return f, nil
	}
}

func (f *fakeEvaluator) Ingest(ctx context.Context, docs []dataset.Document) ([]dataset.Document, error) {
	out := make([]dataset.Document, len(docs))
	for i, d := range docs {
		d.Embedding = []float32{float32(i), 1}
		out[i] = d
	}
	f.ingested = out
	return out, nil
}

func (f *fakeEvaluator) Run(ctx context.Context, queries []dataset.Query, onRecord func(evaluation.Record)) ([]evaluation.Record, evaluation.Summary, error) {
	if f.runErr != nil {
		return nil, evaluation.Summary{}, f.runErr
	}
	records := make([]evaluation.Record, len(queries))
	for i, q := range queries {
		judgments := []relevance.Judgment{relevance.Relevant, relevance.Irrelevant}
		precision, _ := relevance.PrecisionAtK(judgments)
		records[i] = evaluation.Record{
			QueryID:        q.ID,
			Query:          q.Text,
			Response:       "answer",
			Retrieved:      []evaluation.Retrieved{{DocumentID: "d1", Rank: 1}, {DocumentID: "d2", Rank: 2}},
			Judgments:      judgments,
			Precision:      precision,
			QueryEmbedding: []float32{1, float32(i)},
		}
	}
	return records, evaluation.Summarize(records), nil
}
