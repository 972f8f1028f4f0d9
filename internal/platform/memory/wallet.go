package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/txn"
)

// ReceiveHook runs when a payout reaches an address. Returning an error
// bounces the payment.
type ReceiveHook func(ctx context.Context, amount *big.Int) error

// Wallet records funds paid out of the marketplace per address.
type Wallet struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	hooks    map[common.Address]ReceiveHook
}

// NewWallet creates an empty Wallet.
func NewWallet() *Wallet {
	return &Wallet{
		balances: make(map[common.Address]*big.Int),
		hooks:    make(map[common.Address]ReceiveHook),
	}
}

// SetReceiveHook installs hook for addr. A nil hook removes it.
func (w *Wallet) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if hook == nil {
		delete(w.hooks, addr)
		return
	}
	w.hooks[addr] = hook
}

// Balance returns everything paid to addr so far.
func (w *Wallet) Balance(addr common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Pay credits the recipient and then runs its receive hook in the same
// savepoint.
func (w *Wallet) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	paid := new(big.Int).Set(amount)
	return txn.Run(ctx, func(ctx context.Context) error {
		w.add(to, paid)
		txn.Record(ctx, func() { w.add(to, new(big.Int).Neg(paid)) })

		w.mu.Lock()
		hook := w.hooks[to]
		w.mu.Unlock()
		if hook != nil {
			if err := hook(ctx, paid); err != nil {
				return fmt.Errorf("memory wallet: %s rejected payment of %s: %w", to.Hex(), paid, err)
			}
		}
		return nil
	})
}

func (w *Wallet) add(addr common.Address, delta *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.balances[addr]
	if !ok {
		cur = new(big.Int)
	}
	w.balances[addr] = new(big.Int).Add(cur, delta)
}

// Compile-time interface check.
var _ domain.Payer = (*Wallet)(nil)
