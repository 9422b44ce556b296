package sqlite

import (
	"context"

	"github.com/hookline/intake/internal/db"
)

type storeDatabase interface {
	GetWebhookByToken(ctx context.Context, token string) (db.Webhook, error)
	InsertWebhookEvent(ctx context.Context, params db.InsertWebhookEventParams) error
	ListWebhookEvents(ctx context.Context, params db.ListWebhookEventsParams) ([]db.WebhookEvent, error)
	CountWebhookEvents(ctx context.Context, webhookID string) (int64, error)
	WithTx(ctx context.Context, fn func(*db.Queries) error) error
}
