// Package notify forwards committed marketplace events to chat channels.
// Operators choose which event kinds are forwarded.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an event out to every sender when its kind is enabled.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list enables every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	enabled := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			enabled[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   enabled,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether events of kind are forwarded.
func (n *Notifier) Enabled(kind domain.EventKind) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.kinds) == 0 || n.kinds[kind]
}

// NotifyEvent renders evt and delivers it if its kind is enabled.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Enabled(evt.Kind) {
		return nil
	}
	title, message := Format(evt)
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Format renders a one-line title and a short body for evt.
func Format(evt domain.Event) (title, message string) {
	switch evt.Kind {
	case domain.EventListingCreated:
		return fmt.Sprintf("Listing #%d created", evt.ListingID),
			fmt.Sprintf("%s lists %s #%s for %s", evt.Seller.Hex(), evt.Registry.Hex(), amount(evt.AssetID), amount(evt.Price))
	case domain.EventSaleCompleted:
		return fmt.Sprintf("Listing #%d sold", evt.ListingID),
			fmt.Sprintf("%s bought %s #%s from %s for %s", evt.Buyer.Hex(), evt.Registry.Hex(), amount(evt.AssetID), evt.Seller.Hex(), amount(evt.Price))
	case domain.EventRoyaltySet:
		return "Royalty set",
			fmt.Sprintf("%s #%s pays %d bps to %s", evt.Registry.Hex(), amount(evt.AssetID), evt.PercentageBps, evt.Recipient.Hex())
	case domain.EventListingCancelled:
		return fmt.Sprintf("Listing #%d cancelled", evt.ListingID),
			fmt.Sprintf("cancelled by %s", evt.Caller.Hex())
	case domain.EventEarningsWithdrawn:
		return "Earnings withdrawn",
			fmt.Sprintf("%s withdrew %s", evt.Party.Hex(), amount(evt.Amount))
	default:
		return string(evt.Kind), ""
	}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
