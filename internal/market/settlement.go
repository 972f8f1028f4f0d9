package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// Receipt describes a completed sale.
type Receipt struct {
	ListingID uint64
	Registry  common.Address
	AssetID   *big.Int
	Seller    common.Address
	Buyer     common.Address
	Split     Split
	Refund    *big.Int
}

// Buy settles listing id for buyer, who has sent payment. The listing is
// deactivated before any funds or assets move; the fee, royalty and seller
// shares are credited to the earnings ledger; the asset is transferred with
// the registry's safe transfer; and any overpayment is refunded. A failure at
// any of those steps rolls back the whole purchase.
func (e *Engine) Buy(ctx context.Context, buyer common.Address, id uint64, payment *big.Int) (Receipt, error) {
	if payment == nil {
		payment = new(big.Int)
	}

	l, err := e.GetListing(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if !l.Exists() || !l.Active {
		return Receipt{}, domain.ErrListingNotActive
	}
	if payment.Cmp(l.Price) < 0 {
		return Receipt{}, domain.ErrInsufficientPayment
	}
	if buyer == l.Seller {
		return Receipt{}, domain.ErrSelfPurchase
	}

	var rcpt Receipt
	err = e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := e.stores.Listings.Deactivate(ctx, id, e.now().UTC())
		if err != nil {
			return fmt.Errorf("market: buy %d: deactivate: %w", id, err)
		}
		if !ok {
			return domain.ErrListingNotActive
		}

		royalty, err := e.stores.Royalties.Get(ctx, l.Registry, l.AssetID)
		if err != nil {
			return fmt.Errorf("market: buy %d: royalty lookup: %w", id, err)
		}
		split, err := e.cfg.Fees.Split(l.Price, royalty)
		if err != nil {
			return fmt.Errorf("market: buy %d: %w", id, err)
		}

		if split.Royalty.Sign() > 0 {
			if err := e.stores.Earnings.Credit(ctx, split.RoyaltyRecipient, split.Royalty); err != nil {
				return fmt.Errorf("market: buy %d: credit royalty: %w", id, err)
			}
		}
		if err := e.stores.Earnings.Credit(ctx, l.Seller, split.SellerProceeds); err != nil {
			return fmt.Errorf("market: buy %d: credit seller: %w", id, err)
		}
		if err := e.stores.Earnings.Credit(ctx, e.cfg.Owner, split.MarketplaceFee); err != nil {
			return fmt.Errorf("market: buy %d: credit marketplace fee: %w", id, err)
		}

		if err := e.registry.SafeTransferFrom(ctx, l.Registry, l.Seller, buyer, l.AssetID); err != nil {
			return fmt.Errorf("market: buy %d: asset transfer: %w: %w", id, domain.ErrTransferFailed, err)
		}

		refund := new(big.Int).Sub(payment, l.Price)
		if refund.Sign() > 0 {
			if err := e.payer.Pay(ctx, buyer, refund); err != nil {
				return fmt.Errorf("market: buy %d: refund: %w: %w", id, domain.ErrTransferFailed, err)
			}
		}

		rcpt = Receipt{
			ListingID: id,
			Registry:  l.Registry,
			AssetID:   l.AssetID,
			Seller:    l.Seller,
			Buyer:     buyer,
			Split:     split,
			Refund:    refund,
		}
		return e.record(ctx, domain.Event{
			Kind:      domain.EventSaleCompleted,
			ListingID: id,
			Registry:  l.Registry,
			AssetID:   l.AssetID,
			Seller:    l.Seller,
			Buyer:     buyer,
			Price:     l.Price,
		})
	})
	if err != nil {
		e.logger.WarnContext(ctx, "purchase failed",
			slog.Uint64("listing_id", id),
			slog.String("buyer", buyer.Hex()),
			slog.String("error", err.Error()),
		)
		return Receipt{}, err
	}

	e.logger.InfoContext(ctx, "sale completed",
		slog.Uint64("listing_id", id),
		slog.String("seller", rcpt.Seller.Hex()),
		slog.String("buyer", buyer.Hex()),
		slog.String("price", rcpt.Split.Price.String()),
		slog.String("fee", rcpt.Split.MarketplaceFee.String()),
		slog.String("royalty", rcpt.Split.Royalty.String()),
		slog.String("refund", rcpt.Refund.String()),
	)
	return rcpt, nil
}

// CancelListing withdraws an active listing. The seller and the marketplace
// owner may cancel.
func (e *Engine) CancelListing(ctx context.Context, caller common.Address, id uint64) error {
	l, err := e.GetListing(ctx, id)
	if err != nil {
		return err
	}
	if !l.Exists() || !l.Active {
		return domain.ErrListingNotActive
	}
	if caller != l.Seller && caller != e.cfg.Owner {
		return domain.ErrUnauthorized
	}

	err = e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := e.stores.Listings.Deactivate(ctx, id, e.now().UTC())
		if err != nil {
			return fmt.Errorf("market: cancel %d: %w", id, err)
		}
		if !ok {
			return domain.ErrListingNotActive
		}
		return e.record(ctx, domain.Event{
			Kind:      domain.EventListingCancelled,
			ListingID: id,
			Caller:    caller,
		})
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "listing cancelled",
		slog.Uint64("listing_id", id),
		slog.String("caller", caller.Hex()),
	)
	return nil
}
