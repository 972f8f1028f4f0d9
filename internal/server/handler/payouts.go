package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/royaltymarket/internal/store/postgres"
)

// PayoutLister reads the payout outbox.
type PayoutLister interface {
	ListPending(ctx context.Context, limit int) ([]postgres.Payout, error)
}

// PayoutHandler exposes unsent payouts to the operator that settles them.
type PayoutHandler struct {
	payouts PayoutLister
	logger  *slog.Logger
}

// NewPayoutHandler creates a PayoutHandler.
func NewPayoutHandler(payouts PayoutLister, logger *slog.Logger) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, logger: logger.With(slog.String("handler", "payouts"))}
}

// ListPending returns pending payouts, oldest first.
// GET /api/payouts?limit=50
func (h *PayoutHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePaging(r)
	payouts, err := h.payouts.ListPending(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list payouts", err)
		return
	}

	type view struct {
		ID        int64  `json:"id"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
		Status    string `json:"status"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]view, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, view{
			ID:        p.ID,
			Recipient: p.Recipient.Hex(),
			Amount:    amountString(p.Amount),
			Status:    p.Status,
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": out})
}
