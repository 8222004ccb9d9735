package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/application/dto"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// RiskHandler handles HTTP requests for risk assessments and profiles.
// RiskHandler 处理风险评估与用户画像相关的 HTTP 请求。
type RiskHandler struct {
	service application.RiskAssessmentService
	logger  logger.Logger
}

// NewRiskHandler creates a new RiskHandler.
func NewRiskHandler(svc application.RiskAssessmentService, log logger.Logger) *RiskHandler {
	return &RiskHandler{
		service: svc,
		logger:  log.WithComponent("RiskHandler"),
	}
}

// AssessRisk handles POST /api/v1/risk/assessments.
func (h *RiskHandler) AssessRisk(c *gin.Context) {
	var op models.OperationContext
	if err := c.ShouldBindJSON(&op); err != nil {
		h.sendError(c, errors.ErrInvalidRequest("malformed request body").WithCause(err))
		return
	}

	result, err := h.service.AssessRisk(c.Request.Context(), &op)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetAssessment handles GET /api/v1/risk/assessments/:assessment_id.
func (h *RiskHandler) GetAssessment(c *gin.Context) {
	record, err := h.service.GetAssessmentDetails(c.Request.Context(), c.Param("assessment_id"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetProfile handles GET /api/v1/risk/users/:user_id/profile.
func (h *RiskHandler) GetProfile(c *gin.Context) {
	profile, err := h.service.GetUserRiskProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ListAssessments handles GET /api/v1/risk/users/:user_id/assessments?limit=.
func (h *RiskHandler) ListAssessments(c *gin.Context) {
	userID := c.Param("user_id")
	limit := constants.DefaultAssessmentListLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.sendError(c, errors.ErrInvalidParameterFormat("limit", "integer between 1 and "+strconv.Itoa(constants.MaxAssessmentListLimit)))
			return
		}
		limit = n
	}

	items, err := h.service.ListUserAssessments(c.Request.Context(), userID, limit)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAssessmentList(userID, items))
}

// ApplyFeedback handles POST /_internal/risk/feedback.
func (h *RiskHandler) ApplyFeedback(c *gin.Context) {
	var fb models.RiskFeedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		h.sendError(c, errors.ErrInvalidRequest("malformed request body").WithCause(err))
		return
	}
	if err := h.service.ApplyFeedback(c.Request.Context(), &fb); err != nil {
		h.sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RiskHandler) sendError(c *gin.Context, err error) {
	if errors.ShouldLogError(err) {
		h.logger.Error(c.Request.Context(), "Request failed", err, logger.String("path", c.FullPath()))
	}
	c.JSON(errors.HTTPStatusOf(err), errors.ToErrorResponse(err))
}
