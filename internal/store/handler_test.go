package store

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confhub/internal/logger"
	"confhub/pkg/middleware"
)

func setupTestRouter(backend Backend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	s := newTestStore(backend)
	handler := NewHandler(s, logger.NopLogger())
	handler.RegisterRoutes(router, middleware.TenantMiddleware())

	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "acme")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_UpsertCreatesAndUpdates(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value": map[string]interface{}{"enabled": true},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created ConfigObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "GLOBAL", created.Context)

	w = doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value": map[string]interface{}{"enabled": false},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated ConfigObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, int64(2), updated.Version)
}

func TestHandler_UpsertRequiresValue(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"context": "eu-west-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_UpsertPinnedConflict(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value": map[string]interface{}{"v": 1},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value":           map[string]interface{}{"v": 2},
		"expectedVersion": 9,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VERSION_CONFLICT", resp["error_code"])
}

func TestHandler_GetWithContextFallback(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value": map[string]interface{}{"scope": "global"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/configs/feature-flag/checkout?context=eu-west-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var obj ConfigObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	assert.Equal(t, "GLOBAL", obj.Context)
}

func TestHandler_GetNotFound(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodGet, "/api/v1/configs/feature-flag/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_DeleteLifecycle(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/checkout", map[string]interface{}{
		"value": map[string]interface{}{"v": 1},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/configs/feature-flag/checkout", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/configs/feature-flag/checkout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/configs/feature-flag/checkout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_DeleteRejectsBadExpectedVersion(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	w := doJSON(t, router, http.MethodDelete, "/api/v1/configs/feature-flag/checkout?expectedVersion=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RequiresTenantHeader(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs/feature-flag/checkout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_ListConfigs(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	for _, id := range []string{"a", "b"} {
		w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/"+id, map[string]interface{}{
			"value": map[string]interface{}{"id": id},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/configs/feature-flag", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var objects []ConfigObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &objects))
	assert.Len(t, objects, 2)
}

func TestHandler_ListConfigsScopedToContext(t *testing.T) {
	router := setupTestRouter(newFakeBackend())

	for _, c := range []string{"", "eu-west-1"} {
		w := doJSON(t, router, http.MethodPut, "/api/v1/configs/feature-flag/rollout", map[string]interface{}{
			"context": c,
			"value":   map[string]interface{}{"context": c},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/configs/feature-flag?context=eu-west-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var objects []ConfigObject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, "eu-west-1", objects[0].Context)
}
