package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxRoyaltyBps caps a royalty assignment at 10% of the sale price.
const MaxRoyaltyBps = 1000

// RoyaltyAssignment routes PercentageBps basis points of every sale of the
// keyed asset to Recipient. The zero value means "no royalty".
type RoyaltyAssignment struct {
	Registry      common.Address
	AssetID       *big.Int
	Recipient     common.Address
	PercentageBps uint16
	UpdatedAt     time.Time
}

// Payable reports whether a sale should credit a royalty.
func (r RoyaltyAssignment) Payable() bool {
	return r.Recipient != (common.Address{}) && r.PercentageBps > 0
}

// AssetKey renders the (registry, asset id) pair used to key royalties and
// locks.
func AssetKey(registry common.Address, assetID *big.Int) string {
	id := "0"
	if assetID != nil {
		id = assetID.String()
	}
	return registry.Hex() + ":" + id
}
