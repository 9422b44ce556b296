package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/intake/internal/app/ports"
	"github.com/hookline/intake/internal/cache"
	"github.com/hookline/intake/internal/observability"
)

var (
	// ErrInvalidToken indicates an empty token segment in the webhook URL.
	ErrInvalidToken = errors.New("invalid webhook token")
	// ErrWebhookNotFound indicates no registered webhook for the token.
	ErrWebhookNotFound = errors.New("webhook not found")
	// ErrIngestBusy indicates ingestion queue saturation.
	ErrIngestBusy = errors.New("ingestion busy")
)

// writeMethods capture the request body; every other verb captures query params.
var writeMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// IngestErrorKind classifies ingestion failures for transport-specific mapping.
type IngestErrorKind string

const (
	// IngestErrorUnknown is used when error is nil or not classified.
	IngestErrorUnknown IngestErrorKind = "unknown"
	// IngestErrorInvalidToken indicates an empty token segment.
	IngestErrorInvalidToken IngestErrorKind = "invalid_token"
	// IngestErrorNotFound indicates an unregistered token.
	IngestErrorNotFound IngestErrorKind = "not_found"
	// IngestErrorBusy indicates ingestion queue saturation.
	IngestErrorBusy IngestErrorKind = "busy"
)

// IngestCommand is transport-agnostic webhook delivery input.
type IngestCommand struct {
	Token   string
	Method  string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// IngestReceipt reports one durably stored delivery.
type IngestReceipt struct {
	EventID    string
	WebhookID  string
	Token      string
	Method     string
	SizeBytes  int64
	ReceivedAt int64
}

// Notifier receives a copy of every stored delivery, best effort.
type Notifier interface {
	EventRecorded(ctx context.Context, receipt IngestReceipt)
}

// IngestBatchConfig tunes the optional write batcher.
type IngestBatchConfig struct {
	Enabled       bool
	Size          int
	FlushInterval time.Duration
}

// WebhookIngestService resolves public tokens and appends deliveries to the event store.
type WebhookIngestService struct {
	resolver tokenResolver
	store    ports.EventStore
	notifier Notifier
	batcher  *ingestBatcher
	metrics  ingestMetrics
	now      func() time.Time
	newID    func() string
}

// NewWebhookIngestService constructs an ingestion service without batching.
func NewWebhookIngestService(registry ports.WebhookRegistry, store ports.EventStore, tokens cache.TokenCache) *WebhookIngestService {
	return NewWebhookIngestServiceWithConfig(registry, store, tokens, IngestBatchConfig{})
}

// NewWebhookIngestServiceWithConfig constructs an ingestion service with batching options.
func NewWebhookIngestServiceWithConfig(registry ports.WebhookRegistry, store ports.EventStore, tokens cache.TokenCache, batchCfg IngestBatchConfig) *WebhookIngestService {
	service := &WebhookIngestService{
		resolver: newTokenResolver(registry, tokens),
		store:    store,
		metrics:  newIngestMetrics(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if batchCfg.Enabled {
		size := batchCfg.Size
		if size <= 0 {
			size = 100
		}
		if size > 2000 {
			size = 2000
		}
		interval := batchCfg.FlushInterval
		if interval <= 0 {
			interval = 50 * time.Millisecond
		}
		service.batcher = newIngestBatcher(store, size, interval)
	}
	return service
}

// SetNotifier attaches an optional post-store delivery sink.
func (s *WebhookIngestService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// ClassifyIngestError classifies a returned ingestion error.
func ClassifyIngestError(err error) IngestErrorKind {
	switch {
	case err == nil:
		return IngestErrorUnknown
	case errors.Is(err, ErrInvalidToken):
		return IngestErrorInvalidToken
	case errors.Is(err, ErrWebhookNotFound):
		return IngestErrorNotFound
	case errors.Is(err, ErrIngestBusy):
		return IngestErrorBusy
	default:
		return IngestErrorUnknown
	}
}

// Ingest resolves the token, captures the delivery, and appends it to the event store.
func (s *WebhookIngestService) Ingest(ctx context.Context, cmd IngestCommand) (IngestReceipt, error) {
	s.metrics.recordReceived(ctx, cmd.Method)
	if cmd.Token == "" {
		s.metrics.recordRejected(ctx, IngestErrorInvalidToken)
		return IngestReceipt{}, ErrInvalidToken
	}

	webhookID, err := s.resolver.resolve(ctx, cmd.Token)
	if err != nil {
		s.metrics.recordRejected(ctx, ClassifyIngestError(err))
		return IngestReceipt{}, err
	}
	ctx = observability.WithWebhookIdentity(ctx, webhookID)

	receivedAt := s.now().Unix()
	payload := capturePayload(cmd.Method, cmd.Query, cmd.Body)

	record := ports.EventRecord{
		EventID:     s.newID(),
		WebhookID:   webhookID,
		Method:      cmd.Method,
		HeadersJSON: encodeHeaders(cmd.Headers),
		Payload:     payload,
		SizeBytes:   int64(len(payload)),
		ReceivedAt:  receivedAt,
	}

	if err := s.appendRecord(ctx, record); err != nil {
		s.metrics.recordRejected(ctx, ClassifyIngestError(err))
		return IngestReceipt{}, err
	}
	s.metrics.recordStored(ctx, cmd.Method, record.SizeBytes)

	receipt := IngestReceipt{
		EventID:    record.EventID,
		WebhookID:  webhookID,
		Token:      cmd.Token,
		Method:     cmd.Method,
		SizeBytes:  record.SizeBytes,
		ReceivedAt: receivedAt,
	}

	if s.notifier != nil {
		s.notifier.EventRecorded(ctx, receipt)
	}

	return receipt, nil
}

func (s *WebhookIngestService) appendRecord(ctx context.Context, record ports.EventRecord) error {
	if s.batcher != nil {
		return s.batcher.append(ctx, record)
	}
	return s.store.AppendEvent(ctx, record)
}

func capturePayload(method string, query url.Values, body []byte) string {
	if _, ok := writeMethods[method]; ok {
		return string(body)
	}
	return encodeQuery(query)
}

// encodeQuery flattens query params to a JSON object, last value wins per key.
func encodeQuery(query url.Values) string {
	flat := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = values[len(values)-1]
	}
	return marshalFlat(flat)
}

// encodeHeaders flattens request headers to a JSON object with lowercase names.
func encodeHeaders(headers http.Header) string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return marshalFlat(flat)
}

func marshalFlat(flat map[string]string) string {
	raw, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
