package sqlite

import (
	"context"

	"github.com/hookline/intake/internal/app/ports"
	"github.com/hookline/intake/internal/db"
)

// Store adapts the shared SQLite database to the registry and event-store ports.
type Store struct {
	db storeDatabase
}

// NewStore wraps an open database handle.
func NewStore(database storeDatabase) *Store {
	return &Store{db: database}
}

func (s *Store) GetWebhookByToken(ctx context.Context, token string) (ports.Webhook, error) {
	webhook, err := s.db.GetWebhookByToken(ctx, token)
	if err != nil {
		return ports.Webhook{}, err
	}
	return ports.Webhook{
		ID:        webhook.ID,
		Token:     webhook.Token,
		Name:      webhook.Name,
		CreatedAt: webhook.CreatedAt,
	}, nil
}

func (s *Store) AppendEvent(ctx context.Context, event ports.EventRecord) error {
	return s.db.InsertWebhookEvent(ctx, insertParams(event))
}

// AppendEvents writes a whole batch in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events []ports.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		return s.AppendEvent(ctx, events[0])
	}
	return s.db.WithTx(ctx, func(q *db.Queries) error {
		for _, event := range events {
			if err := q.InsertWebhookEvent(ctx, insertParams(event)); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertParams(event ports.EventRecord) db.InsertWebhookEventParams {
	return db.InsertWebhookEventParams{
		ID:         event.EventID,
		WebhookID:  event.WebhookID,
		Method:     event.Method,
		Headers:    event.HeadersJSON,
		Payload:    event.Payload,
		SizeBytes:  event.SizeBytes,
		ReceivedAt: event.ReceivedAt,
	}
}

func (s *Store) ListEventsByWebhook(ctx context.Context, webhookID string, limit int) ([]ports.StoredEvent, error) {
	rows, err := s.db.ListWebhookEvents(ctx, db.ListWebhookEventsParams{WebhookID: webhookID, Limit: int64(limit)})
	if err != nil {
		return nil, err
	}
	events := make([]ports.StoredEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, ports.StoredEvent{
			EventID:     row.ID,
			WebhookID:   row.WebhookID,
			Method:      row.Method,
			HeadersJSON: row.Headers,
			Payload:     row.Payload,
			SizeBytes:   row.SizeBytes,
			ReceivedAt:  row.ReceivedAt,
		})
	}
	return events, nil
}

func (s *Store) CountEventsByWebhook(ctx context.Context, webhookID string) (int64, error) {
	return s.db.CountWebhookEvents(ctx, webhookID)
}

var (
	_ ports.WebhookRegistry = (*Store)(nil)
	_ ports.EventStore      = (*Store)(nil)
	_ ports.EventReader     = (*Store)(nil)
)
