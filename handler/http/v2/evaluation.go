package v2

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rageval/src/infrastructure/apperr"
	"rageval/src/storage/minioctrl"
	"rageval/src/storage/postgres/evalrunctrl"
)

const reportLinkExpiry = 15 * time.Minute

type createEvaluationRequest struct {
	DocumentsPath string `json:"documents_path" binding:"required"`
	QueriesPath   string `json:"queries_path" binding:"required"`
}

type recordsResponse struct {
	RunID   int64                          `json:"run_id,string"`
	Records []evalrunctrl.EvaluationRecord `json:"records"`
}

type reportResponse struct {
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateEvaluation godoc
// @Summary Queue an evaluation run
// @Tags evaluations
// @Accept json
// @Produce json
// @Param body body createEvaluationRequest true "Dataset locations, local paths or minio://bucket/object"
// @Success 202 {object} evalrunctrl.EvaluationRun
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /evaluations [post]
func (h *Handler) CreateEvaluation(c *gin.Context) {
	if h.submitter == nil {
		sendError(c, apperr.New(apperr.Unavailable, "evaluation queue is not configured"))
		return
	}

	var req createEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.Wrap(apperr.InvalidArgument, "invalid request body", err))
		return
	}

	run, err := h.submitter.Submit(c.Request.Context(), req.DocumentsPath, req.QueriesPath)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusAccepted, run)
}

// GetEvaluation godoc
// @Summary Get an evaluation run and its summary
// @Tags evaluations
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} evalrunctrl.EvaluationRun
// @Failure 404 {object} ErrorResponse
// @Router /evaluations/{id} [get]
func (h *Handler) GetEvaluation(c *gin.Context) {
	run, ok := h.lookupRun(c)
	if !ok {
		return
	}
	sendJSON(c, http.StatusOK, run)
}

// ListEvaluationRecords godoc
// @Summary List the per-query records of a run
// @Tags evaluations
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} recordsResponse
// @Failure 404 {object} ErrorResponse
// @Router /evaluations/{id}/records [get]
func (h *Handler) ListEvaluationRecords(c *gin.Context) {
	run, ok := h.lookupRun(c)
	if !ok {
		return
	}

	records, err := h.runs.ListRecords(c.Request.Context(), run.ID)
	if err != nil {
		sendError(c, err)
		return
	}
	if records == nil {
		records = []evalrunctrl.EvaluationRecord{}
	}

	sendJSON(c, http.StatusOK, recordsResponse{RunID: run.ID, Records: records})
}

// GetEvaluationReport godoc
// @Summary Get a download link for a run report
// @Tags evaluations
// @Produce json
// @Param id path string true "Run ID"
// @Param format query string false "csv (default) or json"
// @Success 200 {object} reportResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /evaluations/{id}/report [get]
func (h *Handler) GetEvaluationReport(c *gin.Context) {
	if h.reports == nil {
		sendError(c, apperr.New(apperr.Unavailable, "report storage is not configured"))
		return
	}

	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		sendError(c, apperr.Newf(apperr.InvalidArgument, "unsupported report format %q", format))
		return
	}

	run, ok := h.lookupRun(c)
	if !ok {
		return
	}

	ref := run.CSVObject
	if format == "json" {
		ref = run.JSONObject
	}
	bucket, object := minioctrl.GetBucketAndObjectFromURL(ref)
	if bucket == "" {
		sendError(c, apperr.Newf(apperr.NotFound, "run %d has no %s report (status %s)", run.ID, format, run.Status))
		return
	}

	url, err := h.reports.PresignedURL(c.Request.Context(), bucket, object, reportLinkExpiry)
	if err != nil {
		sendError(c, apperr.Wrap(apperr.Unavailable, "failed to sign report link", err))
		return
	}

	sendJSON(c, http.StatusOK, reportResponse{
		Format:    format,
		URL:       url,
		ExpiresAt: time.Now().Add(reportLinkExpiry).UTC(),
	})
}

func (h *Handler) lookupRun(c *gin.Context) (*evalrunctrl.EvaluationRun, bool) {
	if h.runs == nil {
		sendError(c, apperr.New(apperr.Unavailable, "evaluation store is not configured"))
		return nil, false
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		sendError(c, apperr.Newf(apperr.InvalidArgument, "invalid run id %q", c.Param("id")))
		return nil, false
	}

	run, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return nil, false
	}
	return run, true
}
