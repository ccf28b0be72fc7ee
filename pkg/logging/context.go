package logging

import (
	"context"
)

type contextKey string

const (
	TenantIDKey    contextKey = "tenant_id"
	UserIDKey      contextKey = "user_id"
	RequestIDKey   contextKey = "request_id"
	ServiceNameKey contextKey = "service_name"
)

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetTenantID(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if tenantID := GetTenantID(ctx); tenantID != "" {
		fields = append(fields, "tenant_id", tenantID)
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if userID := GetUserID(ctx); userID != "" {
		fields = append(fields, "user_id", userID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
