package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"confhub/internal/logger"
	pkgerrors "confhub/pkg/errors"
)

type Handler struct {
	repo   *Repository
	logger logger.Logger
}

func NewHandler(repo *Repository, log logger.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, mw ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", mw...)
	{
		v1.GET("/audit/logs", h.ListAuditLogs)
	}
}

// ListAuditLogs godoc
// @Summary      List audit logs
// @Description  Returns the tenant's committed mutations, newest first.
// @Tags         audit
// @Produce      json
// @Param        configType  query  string  false  "Filter by config type"
// @Param        id          query  string  false  "Filter by config object id"
// @Param        limit       query  int     false  "Page size"
// @Success      200  {array}  Log
// @Router       /audit/logs [get]
func (h *Handler) ListAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	logs, err := h.repo.List(c.Request.Context(), ListQuery{
		TenantID:   c.GetString("tenant_id"),
		ConfigType: c.Query("configType"),
		ResourceID: c.Query("id"),
		Limit:      limit,
	})
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
		c.JSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(pkgerrors.Wrap(err, pkgerrors.ErrInternal)))
		return
	}

	c.JSON(http.StatusOK, logs)
}
