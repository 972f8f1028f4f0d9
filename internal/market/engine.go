// Package market is the listing and settlement core of the marketplace. It
// owns the listing lifecycle, royalty assignments, the three-way fund split
// executed at sale time and the earnings ledger participants withdraw from.
//
// Every public operation is one transaction. Inside it the engine always flips
// the authorizing state (listing active flag, earnings balance) before making
// an external call, so a reentrant call made by the asset registry or by a
// payout recipient fails the same precondition the outer call already passed.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/txn"
)

// Config carries the process-wide settings of the engine.
type Config struct {
	// Marketplace is the identity the asset registry must have approved
	// before an asset can be listed.
	Marketplace common.Address
	// Owner is the administrative owner. It receives marketplace fees and may
	// cancel any listing.
	Owner common.Address
	Fees  FeeSchedule
}

// Engine implements the marketplace operations.
type Engine struct {
	cfg      Config
	stores   domain.Stores
	registry domain.AssetRegistry
	payer    domain.Payer
	events   domain.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and builds an Engine. events may be nil.
func New(
	cfg Config,
	stores domain.Stores,
	registry domain.AssetRegistry,
	payer domain.Payer,
	events domain.EventPublisher,
	logger *slog.Logger,
) (*Engine, error) {
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if cfg.Owner == (common.Address{}) {
		return nil, errors.New("market: owner address must be set")
	}
	if cfg.Marketplace == (common.Address{}) {
		return nil, errors.New("market: marketplace address must be set")
	}
	if stores.Tx == nil || stores.Listings == nil || stores.Royalties == nil || stores.Earnings == nil || stores.Audit == nil {
		return nil, errors.New("market: all stores must be provided")
	}
	if registry == nil || payer == nil {
		return nil, errors.New("market: asset registry and payer must be provided")
	}
	return &Engine{
		cfg:      cfg,
		stores:   stores,
		registry: registry,
		payer:    payer,
		events:   events,
		logger:   logger.With(slog.String("component", "market")),
		now:      time.Now,
	}, nil
}

// Owner returns the administrative owner.
func (e *Engine) Owner() common.Address { return e.cfg.Owner }

// Marketplace returns the identity assets must be approved to.
func (e *Engine) Marketplace() common.Address { return e.cfg.Marketplace }

// Fees returns the fee schedule.
func (e *Engine) Fees() FeeSchedule { return e.cfg.Fees }

// record writes evt to the audit log inside the current transaction and
// schedules its publication for after the outermost commit.
func (e *Engine) record(ctx context.Context, evt domain.Event) error {
	evt.OccurredAt = e.now().UTC()
	if err := e.stores.Audit.Log(ctx, string(evt.Kind), evt.Detail()); err != nil {
		return fmt.Errorf("market: audit %s: %w", evt.Kind, err)
	}
	if e.events == nil {
		return nil
	}
	txn.AfterCommit(ctx, func() {
		pubCtx := txn.Detach(ctx)
		if err := e.events.Publish(pubCtx, evt); err != nil {
			e.logger.WarnContext(pubCtx, "publish event failed",
				slog.String("event", string(evt.Kind)),
				slog.String("error", err.Error()),
			)
		}
	})
	return nil
}
