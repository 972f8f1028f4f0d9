package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Transactor runs fn as one all-or-nothing unit. Stores called with the ctx
// handed to fn take part in the transaction. Calling WithinTx with a ctx that
// already carries a transaction opens a savepoint inside it: an error from the
// nested fn undoes only the nested work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListingStore persists listings. Listings are never deleted.
type ListingStore interface {
	// Create allocates the next id, stores l under it and returns the stored
	// record.
	Create(ctx context.Context, l Listing) (Listing, error)
	// Get returns ErrNotFound for ids that were never issued.
	Get(ctx context.Context, id uint64) (Listing, error)
	// Deactivate flips an active listing to inactive. It reports false when the
	// listing does not exist or was already inactive.
	Deactivate(ctx context.Context, id uint64, at time.Time) (bool, error)
	// CurrentID returns the last issued id, or 0.
	CurrentID(ctx context.Context) (uint64, error)
	List(ctx context.Context, f ListingFilter) ([]Listing, error)
}

// RoyaltyStore persists at most one royalty assignment per asset.
type RoyaltyStore interface {
	// Set overwrites any existing assignment for the asset.
	Set(ctx context.Context, r RoyaltyAssignment) error
	// Get returns the zero assignment (not an error) when none is set.
	Get(ctx context.Context, registry common.Address, assetID *big.Int) (RoyaltyAssignment, error)
}

// EarningsStore is the accrual ledger of withdrawable balances.
type EarningsStore interface {
	Credit(ctx context.Context, party common.Address, amount *big.Int) error
	Balance(ctx context.Context, party common.Address) (*big.Int, error)
	// Drain zeroes the party's balance and returns what it held.
	Drain(ctx context.Context, party common.Address) (*big.Int, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles the state behind the marketplace together with the
// transactor that spans them.
type Stores struct {
	Tx        Transactor
	Listings  ListingStore
	Royalties RoyaltyStore
	Earnings  EarningsStore
	Audit     AuditStore
}
