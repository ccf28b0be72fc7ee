package store

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"confhub/internal/logger"
	pkgerrors "confhub/pkg/errors"
)

type Handler struct {
	store  *Store
	logger logger.Logger
}

func NewHandler(store *Store, log logger.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, mw ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", mw...)
	{
		configs := v1.Group("/configs")
		{
			configs.PUT("/:configType/:id", h.UpsertConfig)
			configs.GET("/:configType/:id", h.GetConfig)
			configs.GET("/:configType/:id/contexts", h.GetConfigContexts)
			configs.GET("/:configType", h.ListConfigs)
			configs.DELETE("/:configType/:id", h.DeleteConfig)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := pkgerrors.ToHTTPStatus(err)
	response := pkgerrors.ToErrorResponse(err)

	c.JSON(status, response)
}

type upsertConfigRequest struct {
	Context         string                 `json:"context"`
	Value           map[string]interface{} `json:"value" binding:"required"`
	ExpectedVersion *int64                 `json:"expectedVersion"`
}

// UpsertConfig godoc
// @Summary      Create or update a config object
// @Description  Writes a new version of the config object. With expectedVersion set, the write succeeds only against that exact stored version; without it, the write retries internally on contention.
// @Tags         configs
// @Accept       json
// @Produce      json
// @Param        configType  path      string               true  "Config type"
// @Param        id          path      string               true  "Config object id"
// @Param        config      body      upsertConfigRequest  true  "Config payload"
// @Success      200  {object}  ConfigObject
// @Failure      400  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /configs/{configType}/{id} [put]
func (h *Handler) UpsertConfig(c *gin.Context) {
	var req upsertConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(pkgerrors.ErrValidation.WithCause(err)))
		return
	}

	obj, err := h.store.Upsert(c.Request.Context(), UpsertRequest{
		Key: Key{
			TenantID:   c.GetString("tenant_id"),
			ConfigType: c.Param("configType"),
			Context:    req.Context,
			ID:         c.Param("id"),
		},
		Value:           req.Value,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusOK
	if obj.Version == 1 {
		status = http.StatusCreated
	}
	c.JSON(status, obj)
}

// GetConfig godoc
// @Summary      Get a config object
// @Description  Reads the object at the requested context, falling back to the global context when the requested one has no object.
// @Tags         configs
// @Produce      json
// @Param        configType      path   string  true   "Config type"
// @Param        id              path   string  true   "Config object id"
// @Param        context         query  string  false  "Context (defaults to GLOBAL)"
// @Param        includeDeleted  query  bool    false  "Include soft-deleted objects"
// @Success      200  {object}  ConfigObject
// @Failure      404  {object}  map[string]interface{}
// @Router       /configs/{configType}/{id} [get]
func (h *Handler) GetConfig(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.Query("includeDeleted"))

	obj, err := h.store.Get(c.Request.Context(), Key{
		TenantID:   c.GetString("tenant_id"),
		ConfigType: c.Param("configType"),
		Context:    c.Query("context"),
		ID:         c.Param("id"),
	}, includeDeleted)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, obj)
}

// GetConfigContexts godoc
// @Summary      List all context variants of a config object
// @Description  Returns the object stored at every context for this id, newest creation first.
// @Tags         configs
// @Produce      json
// @Param        configType  path  string  true  "Config type"
// @Param        id          path  string  true  "Config object id"
// @Success      200  {array}  ConfigObject
// @Router       /configs/{configType}/{id}/contexts [get]
func (h *Handler) GetConfigContexts(c *gin.Context) {
	objects, err := h.store.ListContexts(c.Request.Context(),
		c.GetString("tenant_id"), c.Param("configType"), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, objects)
}

// ListConfigs godoc
// @Summary      List config objects of a type
// @Tags         configs
// @Produce      json
// @Param        configType      path   string  true   "Config type"
// @Param        context         query  string  false  "Restrict to one context"
// @Param        includeDeleted  query  bool    false  "Include soft-deleted objects"
// @Param        limit           query  int     false  "Page size"
// @Param        offset          query  int     false  "Page offset"
// @Success      200  {array}  ConfigObject
// @Router       /configs/{configType} [get]
func (h *Handler) ListConfigs(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.Query("includeDeleted"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	objects, err := h.store.List(c.Request.Context(), ListQuery{
		TenantID:       c.GetString("tenant_id"),
		ConfigType:     c.Param("configType"),
		Context:        c.Query("context"),
		IncludeDeleted: includeDeleted,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, objects)
}

// DeleteConfig godoc
// @Summary      Delete a config object
// @Description  Soft-deletes the object at the requested context. With expectedVersion set, the delete succeeds only against that exact stored version.
// @Tags         configs
// @Produce      json
// @Param        configType       path   string  true   "Config type"
// @Param        id               path   string  true   "Config object id"
// @Param        context          query  string  false  "Context (defaults to GLOBAL)"
// @Param        expectedVersion  query  int     false  "Pinned version"
// @Success      204  "No Content"
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}
// @Router       /configs/{configType}/{id} [delete]
func (h *Handler) DeleteConfig(c *gin.Context) {
	var expectedVersion *int64
	if raw := c.Query("expectedVersion"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(
				pkgerrors.ErrValidation.WithViolation("expectedVersion", "must be an integer")))
			return
		}
		expectedVersion = &v
	}

	err := h.store.Delete(c.Request.Context(), DeleteRequest{
		Key: Key{
			TenantID:   c.GetString("tenant_id"),
			ConfigType: c.Param("configType"),
			Context:    c.Query("context"),
			ID:         c.Param("id"),
		},
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
