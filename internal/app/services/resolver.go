package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/hookline/intake/internal/app/ports"
	"github.com/hookline/intake/internal/cache"
)

// tokenResolver maps public tokens to internal webhook ids, cache first,
// registry as the source of truth.
type tokenResolver struct {
	registry ports.WebhookRegistry
	tokens   cache.TokenCache
	metrics  resolverMetrics
}

func newTokenResolver(registry ports.WebhookRegistry, tokens cache.TokenCache) tokenResolver {
	if tokens == nil {
		tokens = cache.Noop{}
	}
	return tokenResolver{registry: registry, tokens: tokens, metrics: newResolverMetrics()}
}

// resolve returns the internal webhook id for a public token.
// A degraded cache never fails resolution, only the registry decides existence.
func (r tokenResolver) resolve(ctx context.Context, token string) (string, error) {
	webhookID, err := r.tokens.GetWebhookID(ctx, token)
	if err == nil {
		r.metrics.recordHit(ctx)
		return webhookID, nil
	}
	if errors.Is(err, cache.ErrMiss) {
		r.metrics.recordMiss(ctx)
	} else {
		r.metrics.recordFailure(ctx)
		slog.WarnContext(ctx, "token_cache_read_failed", "error", err)
	}

	webhook, err := r.registry.GetWebhookByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrWebhookNotFound
		}
		return "", err
	}

	if err := r.tokens.SetWebhookID(ctx, token, webhook.ID); err != nil {
		slog.WarnContext(ctx, "token_cache_write_failed", "error", err)
	}
	return webhook.ID, nil
}
