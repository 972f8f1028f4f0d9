package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry is the external ownership and transfer capability for
// non-fungible assets, addressed by registry (contract) address.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, registry common.Address, assetID *big.Int) (common.Address, error)
	GetApproved(ctx context.Context, registry common.Address, assetID *big.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, registry common.Address, owner, operator common.Address) (bool, error)
	// SafeTransferFrom moves the asset and fails if the receiver does not
	// accept it. Implementations may call back into the marketplace with ctx.
	SafeTransferFrom(ctx context.Context, registry common.Address, from, to common.Address, assetID *big.Int) error
}

// Payer moves funds out of the marketplace: buyer refunds and earnings
// withdrawals. Implementations may call back into the marketplace with ctx.
type Payer interface {
	Pay(ctx context.Context, to common.Address, amount *big.Int) error
}

// EventPublisher fans committed events out to subscribers. Publishing is best
// effort; the durable record is the audit log.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}
