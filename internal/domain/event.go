package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a marketplace notification.
type EventKind string

const (
	EventListingCreated    EventKind = "listing_created"
	EventSaleCompleted     EventKind = "sale_completed"
	EventRoyaltySet        EventKind = "royalty_set"
	EventListingCancelled  EventKind = "listing_cancelled"
	EventEarningsWithdrawn EventKind = "earnings_withdrawn"
)

// Event is the audit record of a committed marketplace operation. Fields that
// do not apply to a kind are left zero.
type Event struct {
	Kind          EventKind
	ListingID     uint64
	Registry      common.Address
	AssetID       *big.Int
	Seller        common.Address
	Buyer         common.Address
	Price         *big.Int
	Recipient     common.Address
	PercentageBps uint16
	Party         common.Address
	Amount        *big.Int
	Caller        common.Address
	OccurredAt    time.Time
}

// Detail flattens the event into the map stored in the audit log and
// published on the event bus. Amounts are decimal strings.
func (e Event) Detail() map[string]any {
	d := map[string]any{
		"event":       string(e.Kind),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case EventListingCreated:
		d["listing_id"] = e.ListingID
		d["registry"] = e.Registry.Hex()
		d["asset_id"] = bigString(e.AssetID)
		d["seller"] = e.Seller.Hex()
		d["price"] = bigString(e.Price)
	case EventSaleCompleted:
		d["listing_id"] = e.ListingID
		d["registry"] = e.Registry.Hex()
		d["asset_id"] = bigString(e.AssetID)
		d["seller"] = e.Seller.Hex()
		d["buyer"] = e.Buyer.Hex()
		d["price"] = bigString(e.Price)
	case EventRoyaltySet:
		d["registry"] = e.Registry.Hex()
		d["asset_id"] = bigString(e.AssetID)
		d["recipient"] = e.Recipient.Hex()
		d["percentage_bps"] = e.PercentageBps
	case EventListingCancelled:
		d["listing_id"] = e.ListingID
		d["caller"] = e.Caller.Hex()
	case EventEarningsWithdrawn:
		d["party"] = e.Party.Hex()
		d["amount"] = bigString(e.Amount)
	}
	return d
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
