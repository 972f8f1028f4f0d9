package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/service"
)

// EventReplayer reads back recorded events.
type EventReplayer interface {
	Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves event replay from the bus stream.
type EventHandler struct {
	events EventReplayer
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReplayer, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger.With(slog.String("handler", "events"))}
}

// Replay returns up to count (default 100, max 1000) events after the
// stream id in after. Clients resume by passing back the last id.
// GET /api/events?after=0&count=100
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 100
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 {
		count = min(n, 1000)
	}

	msgs, err := h.events.Replay(r.Context(), q.Get("after"), count)
	if err != nil {
		if errors.Is(err, service.ErrNoStream) {
			writeError(w, http.StatusNotImplemented, "event stream not configured")
			return
		}
		writeDomainError(w, r, h.logger, "replay events", err)
		return
	}

	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, entry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
