package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dbTracerName    = "intake/db"
	cacheTracerName = "intake/cache"
)

type contextKey string

const (
	webhookIDContextKey contextKey = "observability.webhook_id"
	requestIDKey        contextKey = "observability.request_id"
	routeKey            contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner trace.Span
}

// StartDBSpan starts a database tracing span for one query operation.
func StartDBSpan(ctx context.Context, queryName, operation string) (context.Context, Span) {
	queryName = strings.TrimSpace(queryName)
	if queryName == "" {
		queryName = "unknown"
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system.name", "sqlite"),
		attribute.String("db.query_name", queryName),
		attribute.String("db.operation", strings.TrimSpace(operation)),
	}
	if webhookID, ok := WebhookIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("intake.webhook_id", webhookID))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, "db."+queryName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, otelSpan{inner: span}
}

// StartCacheSpan starts a tracing span for one identifier cache operation.
func StartCacheSpan(ctx context.Context, operation string) (context.Context, Span) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system.name", "redis"),
			attribute.String("cache.operation", operation),
		),
	)
	return ctx, otelSpan{inner: span}
}

// WithWebhookIdentity enriches context and current span with the resolved webhook id.
// Tokens stay out of the context on purpose, they are capability credentials.
func WithWebhookIdentity(ctx context.Context, webhookID string) context.Context {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, webhookIDContextKey, webhookID)
	if span := trace.SpanFromContext(ctx); span != nil {
		span.SetAttributes(attribute.String("intake.webhook_id", webhookID))
	}
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// WebhookIDFromContext extracts the resolved webhook id.
func WebhookIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(webhookIDContextKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s otelSpan) End() {
	if s.inner == nil {
		return
	}
	s.inner.End()
}

func (s otelSpan) RecordError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
