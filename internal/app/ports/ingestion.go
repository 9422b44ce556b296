package ports

import (
	"context"
)

// WebhookRegistry is the authoritative mapping from public tokens to registered webhooks.
type WebhookRegistry interface {
	GetWebhookByToken(ctx context.Context, token string) (Webhook, error)
}

// EventStore is the minimal storage contract needed by webhook ingestion.
type EventStore interface {
	AppendEvent(ctx context.Context, event EventRecord) error
	AppendEvents(ctx context.Context, events []EventRecord) error
}

// Webhook is one registered subscriber endpoint.
type Webhook struct {
	ID        string
	Token     string
	Name      string
	CreatedAt int64
}

// EventRecord is one normalized event-store append request.
type EventRecord struct {
	EventID     string
	WebhookID   string
	Method      string
	HeadersJSON string
	Payload     string
	SizeBytes   int64
	ReceivedAt  int64
}
