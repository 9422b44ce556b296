package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hookline/intake/internal/app/services"

type ingestMetrics struct {
	received metric.Int64Counter
	stored   metric.Int64Counter
	rejected metric.Int64Counter
	bytes    metric.Int64Counter
}

func newIngestMetrics() ingestMetrics {
	meter := otel.Meter(meterName)
	received, _ := meter.Int64Counter("intake.ingest.received")
	stored, _ := meter.Int64Counter("intake.ingest.stored")
	rejected, _ := meter.Int64Counter("intake.ingest.rejected")
	bytes, _ := meter.Int64Counter("intake.ingest.payload_bytes")
	return ingestMetrics{
		received: received,
		stored:   stored,
		rejected: rejected,
		bytes:    bytes,
	}
}

func (m ingestMetrics) recordReceived(ctx context.Context, method string) {
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m ingestMetrics) recordStored(ctx context.Context, method string, size int64) {
	byMethod := metric.WithAttributes(attribute.String("method", method))
	m.stored.Add(ctx, 1, byMethod)
	m.bytes.Add(ctx, size, byMethod)
}

func (m ingestMetrics) recordRejected(ctx context.Context, kind IngestErrorKind) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(kind))))
}

type resolverMetrics struct {
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	failures metric.Int64Counter
}

func newResolverMetrics() resolverMetrics {
	meter := otel.Meter(meterName)
	hits, _ := meter.Int64Counter("intake.token_cache.hits")
	misses, _ := meter.Int64Counter("intake.token_cache.misses")
	failures, _ := meter.Int64Counter("intake.token_cache.failures")
	return resolverMetrics{hits: hits, misses: misses, failures: failures}
}

func (m resolverMetrics) recordHit(ctx context.Context) { m.hits.Add(ctx, 1) }

func (m resolverMetrics) recordMiss(ctx context.Context) { m.misses.Add(ctx, 1) }

func (m resolverMetrics) recordFailure(ctx context.Context) { m.failures.Add(ctx, 1) }
