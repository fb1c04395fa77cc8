package job

import (
	"context"
	"fmt"
	"strings"

	"rageval/src/infrastructure/apperr"
	"rageval/src/storage/postgres/evalrunctrl"
)

// Enqueuer publishes a job for a worker
type Enqueuer interface {
	EnqueueJob(ctx context.Context, taskType string, payload interface{}) (*Job, error)
}

// EvaluationSubmitter creates a pending run and queues its evaluation
type EvaluationSubmitter struct {
	runs   RunStore
	jobs   Enqueuer
	topK   int
	models string
}

func NewEvaluationSubmitter(runs RunStore, jobs Enqueuer, topK int, models string) *EvaluationSubmitter {
	return &EvaluationSubmitter{
		runs:   runs,
		jobs:   jobs,
		topK:   topK,
		models: models,
	}
}

func (s *EvaluationSubmitter) Submit(ctx context.Context, documentsPath, queriesPath string) (*evalrunctrl.EvaluationRun, error) {
	documentsPath = strings.TrimSpace(documentsPath)
	queriesPath = strings.TrimSpace(queriesPath)
	if documentsPath == "" || queriesPath == "" {
		return nil, apperr.New(apperr.InvalidArgument, "documents_path and queries_path are required")
	}

	run, err := s.runs.CreateRun(ctx, evalrunctrl.NewRun{
		TopK:          s.topK,
		Models:        s.models,
		DocumentsPath: documentsPath,
		QueriesPath:   queriesPath,
	})
	if err != nil {
		return nil, err
	}

	_, err = s.jobs.EnqueueJob(ctx, TaskTypeEvaluation, EvaluationPayload{
		RunID:         run.ID,
		DocumentsPath: documentsPath,
		QueriesPath:   queriesPath,
	})
	if err != nil {
		if failErr := s.runs.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			return nil, fmt.Errorf("%w (and failed to mark run failed: %v)", err, failErr)
		}
		return nil, err
	}
	return run, nil
}
