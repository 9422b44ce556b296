package services

import (
	"context"

	"github.com/hookline/intake/internal/app/ports"
	"github.com/hookline/intake/internal/cache"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 500
)

// EventQueryService serves the stored-delivery retrieval surface.
type EventQueryService struct {
	resolver tokenResolver
	reader   ports.EventReader
}

// NewEventQueryService constructs the retrieval service.
func NewEventQueryService(registry ports.WebhookRegistry, tokens cache.TokenCache, reader ports.EventReader) *EventQueryService {
	return &EventQueryService{resolver: newTokenResolver(registry, tokens), reader: reader}
}

// RecentEvents returns the newest stored deliveries for a public token.
// A non-positive limit falls back to the default page size.
func (s *EventQueryService) RecentEvents(ctx context.Context, token string, limit int) ([]ports.StoredEvent, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	webhookID, err := s.resolver.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.reader.ListEventsByWebhook(ctx, webhookID, limit)
}

// EventCount returns the total stored deliveries for a public token.
func (s *EventQueryService) EventCount(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	webhookID, err := s.resolver.resolve(ctx, token)
	if err != nil {
		return 0, err
	}
	return s.reader.CountEventsByWebhook(ctx, webhookID)
}
