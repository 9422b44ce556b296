package routes

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hookline/intake/internal/app/services"
)

// APIRoutes registers the retrieval and health endpoints.
type APIRoutes struct {
	events *services.EventQueryService
}

// NewAPIRoutes constructs API routes.
func NewAPIRoutes(events *services.EventQueryService) *APIRoutes {
	return &APIRoutes{events: events}
}

// RegisterRoutes registers API endpoints.
func (a *APIRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/healthz", handleHealthz)

	api := s.Group("/api/v1")
	api.GET("/webhooks/:token/events", a.handleListEvents)
}

func handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type eventItem struct {
	DataID     string          `json:"data_id"`
	Method     string          `json:"method"`
	SizeBytes  int64           `json:"size_bytes"`
	ReceivedAt int64           `json:"received_at"`
	Headers    json.RawMessage `json:"headers"`
	Payload    string          `json:"payload"`
}

func (a *APIRoutes) handleListEvents(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := a.events.RecentEvents(c.Request().Context(), c.Param("token"), limit)
	if err != nil {
		return writeIngestError(c, err)
	}

	items := make([]eventItem, 0, len(events))
	for _, event := range events {
		items = append(items, eventItem{
			DataID:     event.EventID,
			Method:     event.Method,
			SizeBytes:  event.SizeBytes,
			ReceivedAt: event.ReceivedAt,
			Headers:    json.RawMessage(event.HeadersJSON),
			Payload:    event.Payload,
		})
	}
	return c.JSON(http.StatusOK, items)
}
