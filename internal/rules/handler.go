package rules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"confhub/internal/logger"
	pkgerrors "confhub/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, mw ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", mw...)
	{
		v1.POST("/labels/evaluate", h.EvaluateLabels)
		v1.GET("/rules", h.ListRules)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(err))
}

type evaluateLabelsRequest struct {
	Attributes map[string]interface{} `json:"attributes" binding:"required"`
}

type evaluateLabelsResponse struct {
	Labels map[string]string `json:"labels"`
}

// EvaluateLabels godoc
// @Summary      Evaluate label rules against attributes
// @Description  Runs every enabled label application rule of the tenant and returns the resulting labels.
// @Tags         labels
// @Accept       json
// @Produce      json
// @Param        request  body      evaluateLabelsRequest  true  "Attributes to match"
// @Success      200  {object}  evaluateLabelsResponse
// @Failure      400  {object}  map[string]interface{}
// @Router       /labels/evaluate [post]
func (h *Handler) EvaluateLabels(c *gin.Context) {
	var req evaluateLabelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(pkgerrors.ErrValidation.WithCause(err)))
		return
	}

	labels, err := h.service.EvaluateLabels(c.Request.Context(), c.GetString("tenant_id"), req.Attributes)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluateLabelsResponse{Labels: labels})
}

// ListRules godoc
// @Summary      List decoded label application rules
// @Tags         labels
// @Produce      json
// @Success      200  {array}  Rule
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rules)
}
