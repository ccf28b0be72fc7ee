package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"confhub/internal/constants"
	pkgerrors "confhub/pkg/errors"
	"confhub/pkg/logging"
)

func LoggerMiddleware(logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		logFields := []interface{}{
			"status", statusCode,
			"latency", latency,
			"client_ip", clientIP,
			"method", method,
			"path", path,
		}

		if tenantID := c.GetString("tenant_id"); tenantID != "" {
			logFields = append(logFields, "tenant_id", tenantID)
		}

		if errorMessage != "" {
			logFields = append(logFields, "error", errorMessage)
		}

		if statusCode >= 500 {
			logger.Errorw("HTTP Request", logFields...)
		} else {
			logger.Infow("HTTP Request", logFields...)
		}
	}
}

func RecoveryMiddleware(logger interface {
	Errorw(msg string, keysAndValues ...interface{})
}) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Errorw("Panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "internal server error",
			"error_code": "INTERNAL_ERROR",
		})
	})
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TenantMiddleware requires a tenant identity on every request. The service
// trusts the header; authentication happens upstream.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(constants.TenantIDHeader))
		if tenantID == "" {
			appErr := pkgerrors.ErrUnauthorized.WithDetail("message", "missing "+constants.TenantIDHeader+" header")
			c.AbortWithStatusJSON(appErr.Status, pkgerrors.ToErrorResponse(appErr))
			return
		}

		c.Set("tenant_id", tenantID)
		ctx := logging.WithTenantID(c.Request.Context(), tenantID)

		if userID := strings.TrimSpace(c.GetHeader(constants.UserIDHeader)); userID != "" {
			c.Set("user_id", userID)
			ctx = logging.WithUserID(ctx, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
