package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"

	"rageval/src/infrastructure/apperr"
	"rageval/src/infrastructure/job"
	"rageval/src/storage/postgres/evalrunctrl"
	"rageval/src/storage/weaviate"
)

const (
	documentsJSONL = `{"id":"d1","text":"centroids are means"}
{"id":"d2","text":"it rained today"}
`
	queriesJSONL = `{"id":"q1","query":"what is a centroid?"}
{"id":"q2","query":"how is the weather?"}
`
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func payload(t *testing.T, p job.EvaluationPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestEvaluationTaskHandle(t *testing.T) {
	ctx := context.Background()
	runs := newMemoryRunStore()
	objects := newMemoryObjects()
	objects.objects["datasets/queries.jsonl"] = []byte(queriesJSONL)
	evaluator := &fakeEvaluator{}

	run, err := runs.CreateRun(ctx, evalrunctrl.NewRun{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}

	task := job.NewEvaluationTask(evaluatorFor(evaluator), runs, objects, job.EvaluationTaskConfig{Bucket: "evaluations"})
	err = task.Handle(ctx, payload(t, job.EvaluationPayload{
		RunID:         run.ID,
		DocumentsPath: writeFile(t, "docs.jsonl", documentsJSONL),
		QueriesPath:   "minio://datasets/queries.jsonl",
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := runs.run(run.ID)
	if got.Status != evalrunctrl.RunStatusCompleted {
		t.Fatalf("run status = %s, want %s (error %q)", got.Status, evalrunctrl.RunStatusCompleted, got.Error)
	}
	if got.Summary == nil || got.Summary.Queries != 2 {
		t.Errorf("run summary = %+v, want 2 queries", got.Summary)
	}
	if len(runs.records[run.ID]) != 2 {
		t.Errorf("saved %d records, want 2", len(runs.records[run.ID]))
	}
	if evaluator.resets != 1 {
		t.Errorf("evaluator reset %d times, want 1", evaluator.resets)
	}

	wantCSV := "evaluations/" + job.ReportObject(run.ID, "records.csv")
	if got.CSVObject != wantCSV {
		t.Errorf("CSVObject = %q, want %q", got.CSVObject, wantCSV)
	}
	csv := string(objects.objects[wantCSV])
	if !strings.HasPrefix(csv, "query_id,query,response,") || !strings.Contains(csv, "q2") {
		t.Errorf("uploaded CSV = %q", csv)
	}
	if _, ok := objects.objects[got.JSONObject]; !ok {
		t.Errorf("JSON report %q was not uploaded", got.JSONObject)
	}
}

func TestEvaluationTaskHandleFailures(t *testing.T) {
	docs := writeFile(t, "docs.jsonl", documentsJSONL)
	queries := writeFile(t, "queries.jsonl", queriesJSONL)

	tests := []struct {
		name      string
		payload   job.EvaluationPayload
		evaluator *fakeEvaluator
		wantRun   evalrunctrl.RunStatus
		wantKind  apperr.Kind
	}{
		{
			name:      "missing documents",
			payload:   job.EvaluationPayload{DocumentsPath: filepath.Join(t.TempDir(), "nope.jsonl"), QueriesPath: queries},
			evaluator: &fakeEvaluator{},
			wantRun:   evalrunctrl.RunStatusFailed,
		},
		{
			name:      "missing object",
			payload:   job.EvaluationPayload{DocumentsPath: docs, QueriesPath: "minio://datasets/none.jsonl"},
			evaluator: &fakeEvaluator{},
			wantRun:   evalrunctrl.RunStatusFailed,
		},
		{
			name:      "unsupported extension",
			payload:   job.EvaluationPayload{DocumentsPath: writeFile(t, "docs.txt", documentsJSONL), QueriesPath: queries},
			evaluator: &fakeEvaluator{},
			wantRun:   evalrunctrl.RunStatusFailed,
			wantKind:  apperr.InvalidArgument,
		},
		{
			name:      "bad object reference",
			payload:   job.EvaluationPayload{DocumentsPath: docs, QueriesPath: "minio://"},
			evaluator: &fakeEvaluator{},
			wantRun:   evalrunctrl.RunStatusFailed,
			wantKind:  apperr.InvalidArgument,
		},
		{
			name:      "run canceled",
			payload:   job.EvaluationPayload{DocumentsPath: docs, QueriesPath: queries},
			evaluator: &fakeEvaluator{runErr: context.Canceled},
			wantRun:   evalrunctrl.RunStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			runs := newMemoryRunStore()
			run, _ := runs.CreateRun(ctx, evalrunctrl.NewRun{TopK: 2})
			tt.payload.RunID = run.ID

			task := job.NewEvaluationTask(evaluatorFor(tt.evaluator), runs, newMemoryObjects(), job.EvaluationTaskConfig{Bucket: "evaluations"})
			err := task.Handle(ctx, payload(t, tt.payload))
			if err == nil {
				t.Fatal("Handle() error = nil, want error")
			}
			if tt.wantKind != "" && !apperr.Is(err, tt.wantKind) {
				t.Errorf("Handle() error = %v, want %s", err, tt.wantKind)
			}
			got := runs.run(run.ID)
			if got.Status != tt.wantRun || got.Error == "" {
				t.Errorf("run = (%s, %q), want status %s with an error", got.Status, got.Error, tt.wantRun)
			}
			if tt.evaluator.resets != 1 {
				t.Errorf("evaluator reset %d times, want 1", tt.evaluator.resets)
			}
		})
	}
}

func TestEvaluationTaskIsolatesRuns(t *testing.T) {
	ctx := context.Background()
	runs := newMemoryRunStore()
	docs := writeFile(t, "docs.jsonl", documentsJSONL)
	queries := writeFile(t, "queries.jsonl", queriesJSONL)

	classes := make(map[int64]string)
	evaluators := make(map[int64]*fakeEvaluator)
	factory := func(runID int64) (job.RunEvaluator, error) {
		classes[runID] = weaviate.RunClass("EvalDocument", runID)
		f := &fakeEvaluator{}
		f.onReset = func() {
			if s := runs.run(runID).Status; s != evalrunctrl.RunStatusCompleted {
				t.Errorf("run %d reset while %s, want after completion", runID, s)
			}
		}
		evaluators[runID] = f
		return f, nil
	}
	task := job.NewEvaluationTask(factory, runs, newMemoryObjects(), job.EvaluationTaskConfig{Bucket: "evaluations"})

	runA, _ := runs.CreateRun(ctx, evalrunctrl.NewRun{TopK: 2})
	runB, _ := runs.CreateRun(ctx, evalrunctrl.NewRun{TopK: 2})
	for _, id := range []int64{runA.ID, runB.ID} {
		err := task.Handle(ctx, payload(t, job.EvaluationPayload{RunID: id, DocumentsPath: docs, QueriesPath: queries}))
		if err != nil {
			t.Fatalf("Handle(run %d) error = %v", id, err)
		}
	}

	if len(evaluators) != 2 || classes[runA.ID] == classes[runB.ID] {
		t.Fatalf("runs share a class: %v", classes)
	}
	for id, f := range evaluators {
		if f.resets != 1 || f.ingested != nil {
			t.Errorf("run %d: resets = %d, ingested left = %d, want its class dropped once", id, f.resets, len(f.ingested))
		}
	}
}

func TestEvaluationTaskRejectsMissingRunID(t *testing.T) {
	task := job.NewEvaluationTask(evaluatorFor(&fakeEvaluator{}), newMemoryRunStore(), newMemoryObjects(), job.EvaluationTaskConfig{})
	if err := task.Handle(context.Background(), json.RawMessage(`{"documents_path":"a","queries_path":"b"}`)); err == nil {
		t.Error("Handle() error = nil, want error")
	}
}

type failingEnqueuer struct{}

func (failingEnqueuer) EnqueueJob(ctx context.Context, taskType string, payload interface{}) (*job.Job, error) {
	return nil, errors.New("broker unreachable")
}

func TestEvaluationSubmitter(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueues", func(t *testing.T) {
		pubSub, messages := newPubSub(t)
		runs := newMemoryRunStore()
		jobs := job.NewJobService(pubSub, newMemoryJobRepository(), watermill.NopLogger{})
		submitter := job.NewEvaluationSubmitter(runs, jobs, 2, "embed=e chat=c judge=j")

		run, err := submitter.Submit(ctx, " docs.jsonl ", "queries.jsonl")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if run.Status != evalrunctrl.RunStatusPending || run.DocumentsPath != "docs.jsonl" {
			t.Errorf("Submit() run = %+v", run)
		}

		var msg job.JobMessage
		if err := json.Unmarshal(receive(t, messages).Payload, &msg); err != nil {
			t.Fatal(err)
		}
		var p job.EvaluationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if msg.TaskType != job.TaskTypeEvaluation || p.RunID != run.ID {
			t.Errorf("published %s for run %d, want %s for run %d", msg.TaskType, p.RunID, job.TaskTypeEvaluation, run.ID)
		}
	})

	t.Run("requires paths", func(t *testing.T) {
		submitter := job.NewEvaluationSubmitter(newMemoryRunStore(), failingEnqueuer{}, 2, "")
		if _, err := submitter.Submit(ctx, "", "queries.jsonl"); err == nil {
			t.Error("Submit() error = nil, want error")
		}
	})

	t.Run("marks run failed when enqueue fails", func(t *testing.T) {
		runs := newMemoryRunStore()
		submitter := job.NewEvaluationSubmitter(runs, failingEnqueuer{}, 2, "")
		if _, err := submitter.Submit(ctx, "docs.jsonl", "queries.jsonl"); err == nil {
			t.Fatal("Submit() error = nil, want error")
		}
		for id := range runs.runs {
			if runs.run(id).Status != evalrunctrl.RunStatusFailed {
				t.Errorf("run %d status = %s, want failed", id, runs.run(id).Status)
			}
		}
	})
}
