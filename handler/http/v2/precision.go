package v2

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rageval/src/core/relevance"
	"rageval/src/infrastructure/apperr"
)

type precisionRequest struct {
	// Judgments in rank order: "relevant", "irrelevant", true, false or null
	Judgments []relevance.Judgment `json:"judgments"`
}

type precisionResponse struct {
	Precision []float64 `json:"precision"`
	Unknown   int       `json:"unknown"`
}

// ComputePrecision godoc
// @Summary Compute precision@k for every prefix of a ranking
// @Tags precision
// @Accept json
// @Produce json
// @Param body body precisionRequest true "Relevance judgments in rank order"
// @Success 200 {object} precisionResponse
// @Failure 400 {object} ErrorResponse
// @Router /precision [post]
func (h *Handler) ComputePrecision(c *gin.Context) {
	var req precisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.Wrap(apperr.InvalidArgument, "invalid request body", err))
		return
	}

	precision, err := relevance.PrecisionAtK(req.Judgments)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, precisionResponse{
		Precision: precision,
		Unknown:   relevance.CountUnknown(req.Judgments),
	})
}
