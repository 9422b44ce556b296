package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrMiss reports that a token has no cached resolution.
var ErrMiss = errors.New("cache: miss")

// TokenCache maps public webhook tokens to internal webhook ids.
type TokenCache interface {
	GetWebhookID(ctx context.Context, token string) (string, error)
	SetWebhookID(ctx context.Context, token, webhookID string) error
}

// Key returns the cache key for one public token.
func Key(token string) string {
	return fmt.Sprintf("webhook:token:%s", token)
}

// Noop is the disabled cache: every lookup misses and every store is dropped.
type Noop struct{}

// compile-time interface check
var _ TokenCache = Noop{}

func (Noop) GetWebhookID(context.Context, string) (string, error) { return "", ErrMiss }

func (Noop) SetWebhookID(context.Context, string, string) error { return nil }
