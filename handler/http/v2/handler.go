package v2

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rageval/src/infrastructure/apperr"
	"rageval/src/infrastructure/log"
	"rageval/src/storage/postgres/evalrunctrl"
)

// Submitter starts an evaluation run in the background
type Submitter interface {
	Submit(ctx context.Context, documentsPath, queriesPath string) (*evalrunctrl.EvaluationRun, error)
}

type RunReader interface {
	GetRun(ctx context.Context, id int64) (*evalrunctrl.EvaluationRun, error)
	ListRecords(ctx context.Context, runID int64) ([]evalrunctrl.EvaluationRecord, error)
}

// ReportLinker hands out download links for stored reports
type ReportLinker interface {
	PresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error)
}

// Probe checks one dependency
type Probe func(ctx context.Context) error

type Handler struct {
	submitter Submitter
	runs      RunReader
	reports   ReportLinker
	probes    map[string]Probe
}

// NewHandler creates a Handler. The evaluation routes answer 503 while
// submitter, runs or reports is nil.
func NewHandler(submitter Submitter, runs RunReader, reports ReportLinker, probes map[string]Probe) *Handler {
	return &Handler{
		submitter: submitter,
		runs:      runs,
		reports:   reports,
		probes:    probes,
	}
}

// RegisterRoutes registers all v1 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	v1.POST("/precision", h.ComputePrecision)

	v1.POST("/evaluations", h.CreateEvaluation)
	v1.GET("/evaluations/:id", h.GetEvaluation)
	v1.GET("/evaluations/:id/records", h.ListEvaluationRecords)
	v1.GET("/evaluations/:id/report", h.GetEvaluationReport)

	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error(err, "Request failed", "method", c.Request.Method, "path", c.FullPath())
	}

	c.JSON(status, ErrorResponse{
		Code:    string(apperr.KindOf(err)),
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
