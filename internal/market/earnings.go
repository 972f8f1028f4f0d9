package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// WithdrawEarnings pays out caller's whole balance and returns the amount.
// The balance is zeroed before the payout, and restored if the payout fails.
func (e *Engine) WithdrawEarnings(ctx context.Context, caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		drained, err := e.stores.Earnings.Drain(ctx, caller)
		if err != nil {
			return fmt.Errorf("market: withdraw %s: %w", caller.Hex(), err)
		}
		if drained.Sign() == 0 {
			return domain.ErrNoEarnings
		}
		if err := e.payer.Pay(ctx, caller, drained); err != nil {
			return fmt.Errorf("market: withdraw %s: payout: %w: %w", caller.Hex(), domain.ErrTransferFailed, err)
		}
		amount = drained
		return e.record(ctx, domain.Event{
			Kind:   domain.EventEarningsWithdrawn,
			Party:  caller,
			Amount: drained,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "earnings withdrawn",
		slog.String("party", caller.Hex()),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// GetUserEarnings returns party's withdrawable balance. It reads inside a
// transaction so credits of an unfinished sale are never reported.
func (e *Engine) GetUserEarnings(ctx context.Context, party common.Address) (*big.Int, error) {
	var b *big.Int
	err := e.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = e.stores.Earnings.Balance(ctx, party)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market: earnings of %s: %w", party.Hex(), err)
	}
	return b, nil
}
