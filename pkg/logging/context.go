package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	SubjectKey     = "subject"
	ServiceNameKey = "service_name"
)

const (
	traceIDCtxKey     contextKey = TraceIDKey
	subjectCtxKey     contextKey = SubjectKey
	serviceNameCtxKey contextKey = ServiceNameKey
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDCtxKey, traceID)
}

// WithSubject tags the context with the bus subject being processed.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectCtxKey, subject)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameCtxKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDCtxKey).(string); ok {
		return traceID
	}
	return ""
}

func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(subjectCtxKey).(string); ok {
		return subject
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(serviceNameCtxKey).(string); ok {
		return serviceName
	}
	return ""
}

// GetLogFields returns the key/value pairs stored on ctx, ready for a sugared logger.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, TraceIDKey, traceID)
	}

	if subject := GetSubject(ctx); subject != "" {
		fields = append(fields, SubjectKey, subject)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, ServiceNameKey, serviceName)
	}

	return fields
}
