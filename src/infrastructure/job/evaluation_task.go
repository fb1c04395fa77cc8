package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
	"rageval/src/infrastructure/apperr"
	"rageval/src/infrastructure/log"
	"rageval/src/storage/minioctrl"
	"rageval/src/storage/postgres/evalrunctrl"
)

const TaskTypeEvaluation = "evaluation"

type EvaluationPayload struct {
	RunID         int64  `json:"run_id,string"`
	DocumentsPath string `json:"documents_path"`
	QueriesPath   string `json:"queries_path"`
}

// Evaluator is the part of the pipeline a task drives
type Evaluator interface {
	Ingest(ctx context.Context, docs []dataset.Document) ([]dataset.Document, error)
	Run(ctx context.Context, queries []dataset.Query, onRecord func(evaluation.Record)) ([]evaluation.Record, evaluation.Summary, error)
}

// RunEvaluator is an Evaluator over the document store of a single run.
// Reset drops everything the run ingested.
type RunEvaluator interface {
	Evaluator
	Reset(ctx context.Context) error
}

// EvaluatorFactory builds the evaluator of one run
type EvaluatorFactory func(runID int64) (RunEvaluator, error)

type RunStore interface {
	CreateRun(ctx context.Context, in evalrunctrl.NewRun) (*evalrunctrl.EvaluationRun, error)
	MarkRunning(ctx context.Context, id int64) error
	SaveRecords(ctx context.Context, runID int64, records []evaluation.Record) error
	FinishRun(ctx context.Context, id int64, summary evaluation.Summary, csvObject, jsonObject string) error
	FailRun(ctx context.Context, id int64, reason string) error
}

type ObjectStore interface {
	EnsureBucketExists(ctx context.Context, bucketName string) error
	GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
	PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error
}

type EvaluationTaskConfig struct {
	Bucket       string // reports bucket
	ChunkSize    int
	ChunkOverlap int
}

type EvaluationTask struct {
	evaluators EvaluatorFactory
	runs       RunStore
	objects    ObjectStore
	cfg        EvaluationTaskConfig
}

func NewEvaluationTask(evaluators EvaluatorFactory, runs RunStore, objects ObjectStore, cfg EvaluationTaskConfig) *EvaluationTask {
	return &EvaluationTask{
		evaluators: evaluators,
		runs:       runs,
		objects:    objects,
		cfg:        cfg,
	}
}

// Handle runs one evaluation end to end and records the outcome on the run.
// InvalidArgument failures are final; the job service does not retry them.
func (task *EvaluationTask) Handle(ctx context.Context, payload json.RawMessage) error {
	var p EvaluationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "failed to unmarshal evaluation payload", err)
	}
	if p.RunID == 0 {
		return apperr.New(apperr.InvalidArgument, "evaluation payload has no run_id")
	}

	logger := log.WithValues("run_id", p.RunID)
	evaluator, err := task.evaluators(p.RunID)
	if err != nil {
		return fmt.Errorf("failed to build evaluator: %w", err)
	}
	if err := task.runs.MarkRunning(ctx, p.RunID); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	// Drop what the run ingested once reports are uploaded or the run failed
	defer func() {
		if err := evaluator.Reset(context.WithoutCancel(ctx)); err != nil {
			logger.Error(err, "Failed to drop run documents")
		}
	}()

	if err := task.run(ctx, evaluator, p); err != nil {
		logger.Error(err, "Evaluation run failed")
		if failErr := task.runs.FailRun(context.WithoutCancel(ctx), p.RunID, err.Error()); failErr != nil {
			logger.Error(failErr, "Failed to mark run failed")
		}
		return err
	}

	logger.Info("Evaluation run completed")
	return nil
}

func (task *EvaluationTask) run(ctx context.Context, evaluator Evaluator, p EvaluationPayload) error {
	docs, err := loadDataset(ctx, task.objects, p.DocumentsPath, dataset.LoadDocuments)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	queries, err := loadDataset(ctx, task.objects, p.QueriesPath, dataset.LoadQueries)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	docs, err = dataset.Split(docs, task.cfg.ChunkSize, task.cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	docs, err = evaluator.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to ingest documents: %w", err)
	}

	records, summary, err := evaluator.Run(ctx, queries, nil)
	if err != nil {
		return fmt.Errorf("failed to run evaluation: %w", err)
	}

	if err := task.runs.SaveRecords(ctx, p.RunID, records); err != nil {
		return err
	}

	csvObject, jsonObject, err := task.uploadReports(ctx, p.RunID, records, summary, docs)
	if err != nil {
		return err
	}

	return task.runs.FinishRun(ctx, p.RunID, summary, csvObject, jsonObject)
}

func (task *EvaluationTask) uploadReports(ctx context.Context, runID int64, records []evaluation.Record, summary evaluation.Summary, docs []dataset.Document) (string, string, error) {
	if err := task.objects.EnsureBucketExists(ctx, task.cfg.Bucket); err != nil {
		return "", "", fmt.Errorf("failed to ensure reports bucket exists: %w", err)
	}

	var csvBuf bytes.Buffer
	if err := evaluation.NewTable(records).WriteCSV(&csvBuf); err != nil {
		return "", "", err
	}
	export, err := evaluation.NewExport(records, summary, docs)
	if err != nil {
		return "", "", err
	}
	var jsonBuf bytes.Buffer
	if err := export.WriteJSON(&jsonBuf); err != nil {
		return "", "", err
	}

	csvObject := ReportObject(runID, "records.csv")
	if err := task.objects.PutObject(ctx, task.cfg.Bucket, csvObject, csvBuf.Bytes(), "text/csv"); err != nil {
		return "", "", err
	}
	jsonObject := ReportObject(runID, "report.json")
	if err := task.objects.PutObject(ctx, task.cfg.Bucket, jsonObject, jsonBuf.Bytes(), "application/json"); err != nil {
		return "", "", err
	}

	return task.cfg.Bucket + "/" + csvObject, task.cfg.Bucket + "/" + jsonObject, nil
}

// ReportObject names a report file of a run inside the reports bucket
func ReportObject(runID int64, name string) string {
	return fmt.Sprintf("runs/%d/%s", runID, name)
}

// loadDataset reads a local file or a minio://bucket/object reference. Objects
// are staged to a temporary file keeping their extension, which selects the
// decoder.
func loadDataset[T any](ctx context.Context, objects ObjectStore, ref string, load func(string) ([]T, error)) ([]T, error) {
	if !minioctrl.IsObjectURL(ref) {
		return load(ref)
	}

	bucket, object := minioctrl.GetBucketAndObjectFromURL(ref)
	if bucket == "" {
		return nil, apperr.Newf(apperr.InvalidArgument, "invalid object reference %q", ref)
	}
	data, err := objects.GetObject(ctx, bucket, object)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "dataset-*"+filepath.Ext(object))
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", ref, err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stage %s: %w", ref, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", ref, err)
	}
	return load(f.Name())
}
