package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10000

// DefaultFeeBps is the marketplace fee (2.5%).
const DefaultFeeBps = 250

// FeeSchedule is the process-wide marketplace fee. It is fixed when the
// engine is built.
type FeeSchedule struct {
	FeeBps uint16
}

// Validate checks that fee plus the largest royalty can never exceed the
// price, which keeps the seller's share non-negative.
func (f FeeSchedule) Validate() error {
	if int(f.FeeBps)+domain.MaxRoyaltyBps > BpsDenominator {
		return fmt.Errorf("market: fee %d bps plus max royalty %d bps exceeds %d", f.FeeBps, domain.MaxRoyaltyBps, BpsDenominator)
	}
	return nil
}

// Split is the three-way division of a sale price.
type Split struct {
	Price            *big.Int
	MarketplaceFee   *big.Int
	Royalty          *big.Int
	RoyaltyRecipient common.Address // zero when no royalty is paid
	SellerProceeds   *big.Int
}

// Split divides price between the marketplace, the royalty recipient and the
// seller. Fee and royalty are floored; the seller receives the remainder, so
// the three shares always sum to price.
func (f FeeSchedule) Split(price *big.Int, royalty domain.RoyaltyAssignment) (Split, error) {
	if price == nil || price.Sign() < 0 {
		return Split{}, fmt.Errorf("market: split: %w", domain.ErrInvalidPrice)
	}
	if royalty.PercentageBps > domain.MaxRoyaltyBps {
		return Split{}, fmt.Errorf("market: split: %w", domain.ErrPercentageTooHigh)
	}

	s := Split{
		Price:          new(big.Int).Set(price),
		MarketplaceFee: bps(price, f.FeeBps),
		Royalty:        new(big.Int),
	}
	if royalty.Payable() {
		s.Royalty = bps(price, royalty.PercentageBps)
		s.RoyaltyRecipient = royalty.Recipient
	}

	s.SellerProceeds = new(big.Int).Sub(price, s.MarketplaceFee)
	s.SellerProceeds.Sub(s.SellerProceeds, s.Royalty)
	if s.SellerProceeds.Sign() < 0 {
		return Split{}, fmt.Errorf("market: split: fee %s and royalty %s exceed price %s", s.MarketplaceFee, s.Royalty, price)
	}
	return s, nil
}

// bps returns floor(amount * rate / 10000).
func bps(amount *big.Int, rate uint16) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(rate)))
	return out.Quo(out, big.NewInt(BpsDenominator))
}
