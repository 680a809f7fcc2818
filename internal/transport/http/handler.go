package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/domain"
	"github.com/eventqueue/agent/internal/fanout"
	"github.com/eventqueue/agent/internal/origin"
)

// Sweeper runs the reconciliation sweep against the origin backlog.
// Implementation lives in internal/pipeline.
type Sweeper interface {
	Reconcile(ctx context.Context) error
}

// Forwarder replays a stored record to its destination.
type Forwarder interface {
	Forward(ctx context.Context, rec *domain.DeliveryRecord) bool
}

// EndpointClient is the origin endpoint CRUD surface the handler proxies.
type EndpointClient interface {
	ListEndpoints(ctx context.Context) ([]origin.Endpoint, error)
	CreateEndpoint(ctx context.Context, req origin.EndpointRequest) error
	UpdateEndpoint(ctx context.Context, id uuid.UUID, req origin.EndpointRequest) error
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
}

// Handler holds all HTTP handler methods for the local management surface.
type Handler struct {
	store     domain.Store
	sweeper   Sweeper
	forwarder Forwarder
	endpoints EndpointClient
	hub       *fanout.Hub
}

// NewHandler creates a new Handler.
func NewHandler(store domain.Store, sweeper Sweeper, forwarder Forwarder, endpoints EndpointClient, hub *fanout.Hub) *Handler {
	return &Handler{store: store, sweeper: sweeper, forwarder: forwarder, endpoints: endpoints, hub: hub}
}

// --- Call handlers ---

// ListCalls GET /api/calls — sweeps the origin backlog through the pipeline,
// then returns every still-pending record from both partitions.
func (h *Handler) ListCalls(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.sweeper.Reconcile(ctx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pending, err := h.store.ListPending(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	raw, err := h.store.ListRaw(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	summaries := make([]domain.PendingSummary, 0, len(pending)+len(raw))
	for _, rec := range pending {
		summaries = append(summaries, domain.PendingSummary{
			ID:             rec.ID,
			DestinationURL: rec.DestinationURL,
			Created:        rec.Created,
			Encrypted:      false,
		})
	}
	for _, rec := range raw {
		summaries = append(summaries, domain.PendingSummary{
			ID:             rec.ID,
			DestinationURL: rec.DestinationURL,
			Created:        rec.Created,
			Encrypted:      true,
		})
	}

	return c.JSON(http.StatusOK, summaries)
}

// DeleteCall DELETE /api/calls/:id
func (h *Handler) DeleteCall(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid call id")
	}
	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// RetryCall POST /api/calls/:id/retry — re-invokes the forwarder on the
// already-stored record. The outcome arrives via the status stream and the
// record's delivered/error fields, same as a first delivery.
func (h *Handler) RetryCall(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid call id")
	}

	rec, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "call not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.forwarder.Forward(c.Request().Context(), rec)
	return c.NoContent(http.StatusOK)
}

// --- Status stream ---

// Monitor GET /api/events — local SSE feed of StatusEvents for the UI.
func (h *Handler) Monitor(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if _, err := w.Write(statusFrame(ev)); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Debug().Msg("status stream closed by client")
			return nil
		}
	}
}

// statusFrame formats a StatusEvent as an SSE data frame.
func statusFrame(ev domain.StatusEvent) []byte {
	b, _ := json.Marshal(ev)
	return []byte("data: " + string(b) + "\n\n")
}

// --- Endpoint CRUD pass-through ---

// ListEndpoints GET /api/endpoints
func (h *Handler) ListEndpoints(c echo.Context) error {
	endpoints, err := h.endpoints.ListEndpoints(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, endpoints)
}

// CreateEndpoint POST /api/endpoints
func (h *Handler) CreateEndpoint(c echo.Context) error {
	var req origin.EndpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint payload")
	}
	if err := h.endpoints.CreateEndpoint(c.Request().Context(), req); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

// UpdateEndpoint PUT /api/endpoints/:id
func (h *Handler) UpdateEndpoint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	var req origin.EndpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint payload")
	}
	if err := h.endpoints.UpdateEndpoint(c.Request().Context(), id, req); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// DeleteEndpoint DELETE /api/endpoints/:id
func (h *Handler) DeleteEndpoint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endpoint id")
	}
	if err := h.endpoints.DeleteEndpoint(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"observers": h.hub.SubscriberCount(),
	})
}
