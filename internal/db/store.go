package db

import (
	"context"
	"database/sql"
)

// DBTX is the execution contract shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Webhook is one registered subscriber endpoint.
type Webhook struct {
	ID        string
	Token     string
	Name      string
	CreatedAt int64
}

// WebhookEvent is one durably stored delivery.
type WebhookEvent struct {
	ID         string
	WebhookID  string
	Method     string
	Headers    string
	Payload    string
	SizeBytes  int64
	ReceivedAt int64
}

// Queries executes the store's named statements against a DBTX.
type Queries struct {
	dbtx DBTX
}

// NewQueries binds the named statements to a connection or transaction.
func NewQueries(dbtx DBTX) *Queries {
	return &Queries{dbtx: dbtx}
}

// WithTx rebinds the statements to a transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{dbtx: tx}
}

const createWebhookQuery = `-- name: CreateWebhook :one
INSERT INTO webhooks (id, token, name, created_at)
VALUES (?, ?, ?, ?)
RETURNING id, token, name, created_at`

// CreateWebhookParams configures a webhook registration insert.
type CreateWebhookParams struct {
	ID        string
	Token     string
	Name      string
	CreatedAt int64
}

// CreateWebhook registers a new webhook endpoint.
func (q *Queries) CreateWebhook(ctx context.Context, params CreateWebhookParams) (Webhook, error) {
	row := q.dbtx.QueryRowContext(ctx, createWebhookQuery, params.ID, params.Token, params.Name, params.CreatedAt)
	var webhook Webhook
	err := row.Scan(&webhook.ID, &webhook.Token, &webhook.Name, &webhook.CreatedAt)
	return webhook, err
}

const getWebhookByTokenQuery = `-- name: GetWebhookByToken :one
SELECT id, token, name, created_at
FROM webhooks
WHERE token = ?`

// GetWebhookByToken fetches a webhook by its public token.
func (q *Queries) GetWebhookByToken(ctx context.Context, token string) (Webhook, error) {
	row := q.dbtx.QueryRowContext(ctx, getWebhookByTokenQuery, token)
	var webhook Webhook
	err := row.Scan(&webhook.ID, &webhook.Token, &webhook.Name, &webhook.CreatedAt)
	return webhook, err
}

const getWebhookByIDQuery = `-- name: GetWebhookByID :one
SELECT id, token, name, created_at
FROM webhooks
WHERE id = ?`

// GetWebhookByID fetches a webhook by its internal id.
func (q *Queries) GetWebhookByID(ctx context.Context, id string) (Webhook, error) {
	row := q.dbtx.QueryRowContext(ctx, getWebhookByIDQuery, id)
	var webhook Webhook
	err := row.Scan(&webhook.ID, &webhook.Token, &webhook.Name, &webhook.CreatedAt)
	return webhook, err
}

const listWebhooksQuery = `-- name: ListWebhooks :many
SELECT id, token, name, created_at
FROM webhooks
ORDER BY created_at DESC, id DESC`

// ListWebhooks returns all registered webhooks, newest first.
func (q *Queries) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := q.dbtx.QueryContext(ctx, listWebhooksQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var webhook Webhook
		if err := rows.Scan(&webhook.ID, &webhook.Token, &webhook.Name, &webhook.CreatedAt); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

const insertWebhookEventQuery = `-- name: InsertWebhookEvent :exec
INSERT INTO webhook_events (id, webhook_id, method, headers, payload, size_bytes, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// InsertWebhookEventParams configures a delivery append.
type InsertWebhookEventParams struct {
	ID         string
	WebhookID  string
	Method     string
	Headers    string
	Payload    string
	SizeBytes  int64
	ReceivedAt int64
}

// InsertWebhookEvent appends one delivery to the event store.
func (q *Queries) InsertWebhookEvent(ctx context.Context, params InsertWebhookEventParams) error {
	_, err := q.dbtx.ExecContext(ctx, insertWebhookEventQuery,
		params.ID,
		params.WebhookID,
		params.Method,
		params.Headers,
		params.Payload,
		params.SizeBytes,
		params.ReceivedAt,
	)
	return err
}

const listWebhookEventsQuery = `-- name: ListWebhookEvents :many
SELECT id, webhook_id, method, headers, payload, size_bytes, received_at
FROM webhook_events
WHERE webhook_id = ?
ORDER BY received_at DESC, id DESC
LIMIT ?`

// ListWebhookEventsParams configures a delivery page query.
type ListWebhookEventsParams struct {
	WebhookID string
	Limit     int64
}

// ListWebhookEvents returns the newest deliveries for one webhook.
func (q *Queries) ListWebhookEvents(ctx context.Context, params ListWebhookEventsParams) ([]WebhookEvent, error) {
	rows, err := q.dbtx.QueryContext(ctx, listWebhookEventsQuery, params.WebhookID, params.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var event WebhookEvent
		if err := rows.Scan(
			&event.ID,
			&event.WebhookID,
			&event.Method,
			&event.Headers,
			&event.Payload,
			&event.SizeBytes,
			&event.ReceivedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

const countWebhookEventsQuery = `-- name: CountWebhookEvents :one
SELECT COUNT(*)
FROM webhook_events
WHERE webhook_id = ?`

// CountWebhookEvents returns the stored delivery count for one webhook.
func (q *Queries) CountWebhookEvents(ctx context.Context, webhookID string) (int64, error) {
	row := q.dbtx.QueryRowContext(ctx, countWebhookEventsQuery, webhookID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

// WithTx runs a function within a transaction.
func (c *Database) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(c.Queries.WithTx(tx)); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return rollbackErr
		}
		return err
	}
	return tx.Commit()
}
