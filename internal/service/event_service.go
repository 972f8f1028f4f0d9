// Package service holds the application services that sit between the
// marketplace engine and its delivery channels.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/notify"
)

// notifyQueueSize bounds the events waiting for chat delivery.
const notifyQueueSize = 256

// ErrNoStream is returned by Replay when no event bus is configured.
var ErrNoStream = errors.New("service: event stream not configured")

// Broadcaster pushes an encoded event to in-process subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// EventService implements domain.EventPublisher. With an event bus every
// event is published to domain.EventsChannel and appended to
// domain.EventsStream; WebSocket hubs in every instance pick it up from the
// channel. Without a bus the local hub is fed directly. Chat notifications
// are queued and sent by Run.
type EventService struct {
	bus      domain.EventBus
	local    Broadcaster
	notifier *notify.Notifier
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewEventService creates an EventService. bus, local and notifier may each
// be nil.
func NewEventService(bus domain.EventBus, local Broadcaster, notifier *notify.Notifier, logger *slog.Logger) *EventService {
	return &EventService{
		bus:      bus,
		local:    local,
		notifier: notifier,
		queue:    make(chan domain.Event, notifyQueueSize),
		logger:   logger.With(slog.String("component", "event_service")),
	}
}

// EncodeEvent renders evt as the JSON document carried on the bus.
func EncodeEvent(evt domain.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Detail())
	if err != nil {
		return nil, fmt.Errorf("service: encode %s: %w", evt.Kind, err)
	}
	return payload, nil
}

// Publish fans evt out. Bus errors are returned after every channel has been
// tried; notification enqueueing never blocks.
func (s *EventService) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := EncodeEvent(evt)
	if err != nil {
		return err
	}

	var errs []error
	switch {
	case s.bus != nil:
		if err := s.bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
			errs = append(errs, err)
		}
		if err := s.bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
			errs = append(errs, err)
		}
	case s.local != nil:
		s.local.Broadcast(domain.EventsChannel, payload)
	}

	if s.notifier != nil && s.notifier.Enabled(evt.Kind) {
		select {
		case s.queue <- evt:
		default:
			s.logger.WarnContext(ctx, "notification queue full, dropping",
				slog.String("event", string(evt.Kind)),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("service: publish %s: %w", evt.Kind, errors.Join(errs...))
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled.
func (s *EventService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.queue:
			if s.notifier == nil {
				continue
			}
			if err := s.notifier.NotifyEvent(ctx, evt); err != nil {
				s.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(evt.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Replay returns up to count events recorded on the stream after lastID
// ("0" for the oldest retained).
func (s *EventService) Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, ErrNoStream
	}
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, domain.EventsStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("service: replay: %w", err)
	}
	return msgs, nil
}

var _ domain.EventPublisher = (*EventService)(nil)
