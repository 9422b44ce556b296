package routes

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hookline/intake/internal/app/services"
)

const maxPayloadBytes = 1 << 20

// IntakeRoutes registers the per-subscriber webhook receiver.
type IntakeRoutes struct {
	ingest *services.WebhookIngestService
}

// NewIntakeRoutes constructs the receiver routes.
func NewIntakeRoutes(ingest *services.WebhookIngestService) *IntakeRoutes {
	return &IntakeRoutes{ingest: ingest}
}

// RegisterRoutes registers the receiver endpoint. The wildcard keeps slashes
// inside tokens addressable.
func (w *IntakeRoutes) RegisterRoutes(s *echo.Echo) {
	s.Any("/w/*", w.handleIntake)
}

// intakeResponse field order is the wire contract for receiver replies.
type intakeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	WebhookID  string `json:"webhook_id"`
	DataID     string `json:"data_id"`
	Method     string `json:"method"`
	ReceivedAt int64  `json:"received_at"`
	SizeBytes  int64  `json:"size_bytes"`
}

func (w *IntakeRoutes) handleIntake(c echo.Context) error {
	r := c.Request()
	body, readErr := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if readErr != nil {
		// Deliveries with unreadable bodies still count, recorded as empty objects.
		body = []byte("{}")
	}

	receipt, err := w.ingest.Ingest(r.Context(), services.IngestCommand{
		Token:   c.Param("*"),
		Method:  r.Method,
		Headers: r.Header,
		Query:   c.QueryParams(),
		Body:    body,
	})
	if err != nil {
		return writeIngestError(c, err)
	}

	return c.JSON(http.StatusOK, intakeResponse{
		Success:    true,
		Message:    "Webhook received",
		WebhookID:  receipt.Token,
		DataID:     receipt.EventID,
		Method:     receipt.Method,
		ReceivedAt: receipt.ReceivedAt,
		SizeBytes:  receipt.SizeBytes,
	})
}

func writeIngestError(c echo.Context, err error) error {
	switch services.ClassifyIngestError(err) {
	case services.IngestErrorInvalidToken:
		return c.String(http.StatusBadRequest, "Invalid webhook URL")
	case services.IngestErrorNotFound:
		return c.String(http.StatusNotFound, "Webhook not found")
	case services.IngestErrorBusy:
		return c.String(http.StatusServiceUnavailable, "ingestion busy")
	default:
		slog.ErrorContext(c.Request().Context(), "webhook_ingest_failed", "error", err)
		return c.String(http.StatusInternalServerError, "Internal Server Error")
	}
}
