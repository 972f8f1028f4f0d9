package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// SetRoyalty assigns bps basis points of every future sale of the asset to
// recipient, replacing any previous assignment. Only the current owner of the
// asset may call it.
func (e *Engine) SetRoyalty(ctx context.Context, caller, registry common.Address, assetID *big.Int, recipient common.Address, bps uint16) error {
	if assetID == nil || assetID.Sign() < 0 {
		return domain.ErrNotOwner
	}
	if err := e.requireOwner(ctx, registry, assetID, caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	if bps > domain.MaxRoyaltyBps {
		return domain.ErrPercentageTooHigh
	}

	err := e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		r := domain.RoyaltyAssignment{
			Registry:      registry,
			AssetID:       new(big.Int).Set(assetID),
			Recipient:     recipient,
			PercentageBps: bps,
			UpdatedAt:     e.now().UTC(),
		}
		if err := e.stores.Royalties.Set(ctx, r); err != nil {
			return fmt.Errorf("market: set royalty %s: %w", domain.AssetKey(registry, assetID), err)
		}
		return e.record(ctx, domain.Event{
			Kind:          domain.EventRoyaltySet,
			Registry:      registry,
			AssetID:       r.AssetID,
			Recipient:     recipient,
			PercentageBps: bps,
		})
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "royalty set",
		slog.String("asset", domain.AssetKey(registry, assetID)),
		slog.String("recipient", recipient.Hex()),
		slog.Int("bps", int(bps)),
	)
	return nil
}

// GetRoyaltyInfo returns the assignment for the asset, or the zero
// assignment when none was set.
func (e *Engine) GetRoyaltyInfo(ctx context.Context, registry common.Address, assetID *big.Int) (domain.RoyaltyAssignment, error) {
	r, err := e.stores.Royalties.Get(ctx, registry, assetID)
	if err != nil {
		return domain.RoyaltyAssignment{}, fmt.Errorf("market: royalty %s: %w", domain.AssetKey(registry, assetID), err)
	}
	return r, nil
}
