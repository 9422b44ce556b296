package ports

import (
	"context"
)

// EventReader pages stored deliveries for the read API.
type EventReader interface {
	ListEventsByWebhook(ctx context.Context, webhookID string, limit int) ([]StoredEvent, error)
	CountEventsByWebhook(ctx context.Context, webhookID string) (int64, error)
}

// StoredEvent is one persisted delivery read back from the store.
type StoredEvent struct {
	EventID     string
	WebhookID   string
	Method      string
	HeadersJSON string
	Payload     string
	SizeBytes   int64
	ReceivedAt  int64
}
