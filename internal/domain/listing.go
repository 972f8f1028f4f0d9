package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a fixed-price sale offer for a single asset. Only Active (and the
// ClosedAt stamp that goes with it) ever changes after creation, and only from
// true to false.
type Listing struct {
	ID        uint64
	Registry  common.Address // asset registry (ERC-721 contract)
	AssetID   *big.Int       // token id within Registry
	Seller    common.Address
	Price     *big.Int // smallest currency unit
	Active    bool
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Exists reports whether the listing was ever created. The zero Listing is
// returned for ids that were never issued.
func (l Listing) Exists() bool {
	return l.ID != 0
}

// ListingFilter narrows ListingStore.List queries.
type ListingFilter struct {
	Seller     *common.Address
	ActiveOnly bool
	Limit      int
	Offset     int
}
