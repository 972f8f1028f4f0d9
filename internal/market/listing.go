package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// ListAsset creates an active listing for an asset the seller owns and has
// approved the marketplace to move. It returns the new listing id.
func (e *Engine) ListAsset(ctx context.Context, seller, registry common.Address, assetID, price *big.Int) (uint64, error) {
	if price == nil || price.Sign() <= 0 {
		return 0, domain.ErrInvalidPrice
	}
	if assetID == nil || assetID.Sign() < 0 {
		return 0, fmt.Errorf("market: list: invalid asset id: %w", domain.ErrNotOwner)
	}

	if err := e.requireOwner(ctx, registry, assetID, seller); err != nil {
		return 0, err
	}
	approved, err := e.marketplaceApproved(ctx, registry, assetID, seller)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, domain.ErrNotApproved
	}

	var created domain.Listing
	err = e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		l, err := e.stores.Listings.Create(ctx, domain.Listing{
			Registry:  registry,
			AssetID:   new(big.Int).Set(assetID),
			Seller:    seller,
			Price:     new(big.Int).Set(price),
			Active:    true,
			CreatedAt: e.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("market: list: create listing: %w", err)
		}
		created = l
		return e.record(ctx, domain.Event{
			Kind:      domain.EventListingCreated,
			ListingID: l.ID,
			Registry:  l.Registry,
			AssetID:   l.AssetID,
			Seller:    l.Seller,
			Price:     l.Price,
		})
	})
	if err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", created.ID),
		slog.String("registry", registry.Hex()),
		slog.String("asset_id", assetID.String()),
		slog.String("seller", seller.Hex()),
		slog.String("price", price.String()),
	)
	return created.ID, nil
}

// GetListing returns the listing, or the zero Listing when id was never
// issued. Callers check Exists and Active.
func (e *Engine) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	var l domain.Listing
	err := e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		l, err = e.stores.Listings.Get(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, nil
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: get listing %d: %w", id, err)
	}
	return l, nil
}

// GetCurrentListingID returns the last issued listing id, 0 before the first
// listing.
func (e *Engine) GetCurrentListingID(ctx context.Context) (uint64, error) {
	id, err := e.stores.Listings.CurrentID(ctx)
	if err != nil {
		return 0, fmt.Errorf("market: current listing id: %w", err)
	}
	return id, nil
}

// ListListings returns listings matching f, newest first.
func (e *Engine) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	ls, err := e.stores.Listings.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market: list listings: %w", err)
	}
	return ls, nil
}

// requireOwner fails with ErrNotOwner unless party currently owns the asset.
// Unknown assets count as not owned.
func (e *Engine) requireOwner(ctx context.Context, registry common.Address, assetID *big.Int, party common.Address) error {
	owner, err := e.registry.OwnerOf(ctx, registry, assetID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotOwner
	}
	if err != nil {
		return fmt.Errorf("market: owner of %s: %w", domain.AssetKey(registry, assetID), err)
	}
	if owner != party {
		return domain.ErrNotOwner
	}
	return nil
}

func (e *Engine) marketplaceApproved(ctx context.Context, registry common.Address, assetID *big.Int, owner common.Address) (bool, error) {
	approved, err := e.registry.GetApproved(ctx, registry, assetID)
	if err != nil {
		return false, fmt.Errorf("market: approval of %s: %w", domain.AssetKey(registry, assetID), err)
	}
	if approved == e.cfg.Marketplace {
		return true, nil
	}
	all, err := e.registry.IsApprovedForAll(ctx, registry, owner, e.cfg.Marketplace)
	if err != nil {
		return false, fmt.Errorf("market: operator approval for %s: %w", owner.Hex(), err)
	}
	return all, nil
}
