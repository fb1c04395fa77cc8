package evalrunctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"rageval/src/core/evaluation"
	"rageval/src/core/relevance"
	"rageval/src/infrastructure/apperr"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EvaluationRun is one evaluation of a query set against a corpus
type EvaluationRun struct {
	ID            int64               `gorm:"primaryKey" json:"id,string"`
	Status        RunStatus           `gorm:"not null;index" json:"status"`
	TopK          int                 `gorm:"not null" json:"top_k"`
	Models        string              `gorm:"not null" json:"models"`
	DocumentsPath string              `gorm:"not null" json:"documents_path"`
	QueriesPath   string              `gorm:"not null" json:"queries_path"`
	Summary       *evaluation.Summary `gorm:"serializer:json" json:"summary,omitempty"`
	CSVObject     string              `gorm:"column:csv_object" json:"csv_object,omitempty"`  // bucket name + object name
	JSONObject    string              `gorm:"column:json_object" json:"json_object,omitempty"` // bucket name + object name
	Error         string              `json:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// EvaluationRecord is the persisted outcome of one query
type EvaluationRecord struct {
	ID        int64                  `gorm:"primaryKey" json:"id,string"`
	RunID     int64                  `gorm:"not null;index" json:"run_id,string"`
	Position  int                    `gorm:"not null" json:"position"`
	QueryID   string                 `gorm:"not null" json:"query_id"`
	Query     string                 `gorm:"not null" json:"query"`
	Response  string                 `json:"response"`
	Retrieved []evaluation.Retrieved `gorm:"serializer:json" json:"retrieved"`
	Judgments []string               `gorm:"serializer:json" json:"judgments"`
	Precision []float64              `gorm:"serializer:json" json:"precision"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewRun describes a run to create
type NewRun struct {
	TopK          int
	Models        string
	DocumentsPath string
	QueriesPath   string
}

type EvaluationRunService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewEvaluationRunService(db *gorm.DB) (*EvaluationRunService, error) {
	node, err := snowflake.NewNode(3)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &EvaluationRunService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *EvaluationRunService) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&EvaluationRun{}, &EvaluationRecord{}); err != nil {
		return fmt.Errorf("failed to migrate evaluation tables: %v", err)
	}
	return nil
}

func (s *EvaluationRunService) CreateRun(ctx context.Context, in NewRun) (*EvaluationRun, error) {
	run := &EvaluationRun{
		ID:            s.snowflake.Generate().Int64(),
		Status:        RunStatusPending,
		TopK:          in.TopK,
		Models:        in.Models,
		DocumentsPath: in.DocumentsPath,
		QueriesPath:   in.QueriesPath,
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create evaluation run: %v", err)
	}
	return run, nil
}

func (s *EvaluationRunService) GetRun(ctx context.Context, id int64) (*EvaluationRun, error) {
	var run EvaluationRun
	result := s.db.WithContext(ctx).First(&run, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.NotFound, "evaluation run %d not found", id)
		}
		return nil, fmt.Errorf("failed to get evaluation run: %v", result.Error)
	}
	return &run, nil
}

func (s *EvaluationRunService) MarkRunning(ctx context.Context, id int64) error {
	return s.update(ctx, id, EvaluationRun{Status: RunStatusRunning}, "status", "error")
}

// FinishRun stores the summary and report locations of a completed run
func (s *EvaluationRunService) FinishRun(ctx context.Context, id int64, summary evaluation.Summary, csvObject, jsonObject string) error {
	return s.update(ctx, id, EvaluationRun{
		Status:     RunStatusCompleted,
		Summary:    &summary,
		CSVObject:  csvObject,
		JSONObject: jsonObject,
	}, "status", "summary", "csv_object", "json_object")
}

func (s *EvaluationRunService) FailRun(ctx context.Context, id int64, reason string) error {
	return s.update(ctx, id, EvaluationRun{Status: RunStatusFailed, Error: reason}, "status", "error")
}

func (s *EvaluationRunService) update(ctx context.Context, id int64, values EvaluationRun, columns ...string) error {
	result := s.db.WithContext(ctx).Model(&EvaluationRun{ID: id}).Select(columns).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update evaluation run: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.Newf(apperr.NotFound, "evaluation run %d not found", id)
	}
	return nil
}

// SaveRecords replaces the records of a run, so a retried run does not
// accumulate duplicates.
func (s *EvaluationRunService) SaveRecords(ctx context.Context, runID int64, records []evaluation.Record) error {
	rows := make([]EvaluationRecord, len(records))
	for i, r := range records {
		rows[i] = NewRecordRow(runID, i, r)
		rows[i].ID = s.snowflake.Generate().Int64()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&EvaluationRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear evaluation records: %v", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to save evaluation records: %v", err)
		}
		return nil
	})
}

func (s *EvaluationRunService) ListRecords(ctx context.Context, runID int64) ([]EvaluationRecord, error) {
	var rows []EvaluationRecord
	result := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("position").Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list evaluation records: %v", result.Error)
	}
	return rows, nil
}

// NewRecordRow converts a pipeline record into its stored form. The query
// embedding is not persisted.
func NewRecordRow(runID int64, position int, r evaluation.Record) EvaluationRecord {
	return EvaluationRecord{
		RunID:     runID,
		Position:  position,
		QueryID:   r.QueryID,
		Query:     r.Query,
		Response:  r.Response,
		Retrieved: r.Retrieved,
		Judgments: relevance.Labels(r.Judgments),
		Precision: r.Precision,
		Error:     r.Error,
	}
}

// Record converts the row back into a pipeline record
func (r EvaluationRecord) Record() evaluation.Record {
	return evaluation.Record{
		QueryID:   r.QueryID,
		Query:     r.Query,
		Response:  r.Response,
		Retrieved: r.Retrieved,
		Judgments: relevance.ParseLabels(r.Judgments),
		Precision: r.Precision,
		Error:     r.Error,
	}
}
