// Package memory provides in-process stand-ins for the marketplace's external
// collaborators: an ERC-721 style asset registry and a wallet that receives
// payouts. Both journal their mutations through txn, so a transfer or payout
// made inside a marketplace transaction is undone if that transaction fails.
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

// Receiver is the onERC721Received analogue. Returning an error rejects the
// incoming asset and fails the transfer.
type Receiver func(ctx context.Context, registry, from common.Address, assetID *big.Int) error

type operatorKey struct {
	registry common.Address
	owner    common.Address
	operator common.Address
}

// Registry tracks ownership and approvals for any number of registries.
// Transfers are made on behalf of a single spender (the marketplace), which
// must hold a token approval or an operator approval from the current owner.
type Registry struct {
	mu        sync.Mutex
	spender   common.Address
	owners    map[string]common.Address
	approved  map[string]common.Address
	operators map[operatorKey]bool
	receivers map[common.Address]Receiver
}

// NewRegistry creates an empty Registry whose transfers are performed by
// spender.
func NewRegistry(spender common.Address) *Registry {
	return &Registry{
		spender:   spender,
		owners:    make(map[string]common.Address),
		approved:  make(map[string]common.Address),
		operators: make(map[operatorKey]bool),
		receivers: make(map[common.Address]Receiver),
	}
}

// Mint assigns a new asset to owner.
func (r *Registry) Mint(registry common.Address, assetID *big.Int, owner common.Address) error {
	key := domain.AssetKey(registry, assetID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[key]; ok {
		return fmt.Errorf("memory registry: asset %s already minted", key)
	}
	r.owners[key] = owner
	return nil
}

// Approve grants spender transfer rights over a single asset.
func (r *Registry) Approve(registry common.Address, assetID *big.Int, spender common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approved[domain.AssetKey(registry, assetID)] = spender
}

// SetApprovalForAll grants or revokes operator rights over all of owner's
// assets in registry.
func (r *Registry) SetApprovalForAll(registry, owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := operatorKey{registry: registry, owner: owner, operator: operator}
	if approved {
		r.operators[k] = true
		return
	}
	delete(r.operators, k)
}

// SetReceiver installs a receive hook for addr. A nil hook removes it.
func (r *Registry) SetReceiver(addr common.Address, fn Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.receivers, addr)
		return
	}
	r.receivers[addr] = fn
}

// OwnerOf returns domain.ErrNotFound for assets that were never minted.
func (r *Registry) OwnerOf(_ context.Context, registry common.Address, assetID *big.Int) (common.Address, error) {
	key := domain.AssetKey(registry, assetID)
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[key]
	if !ok {
		return common.Address{}, fmt.Errorf("memory registry: owner of %s: %w", key, domain.ErrNotFound)
	}
	return owner, nil
}

// GetApproved returns the zero address when no token approval exists.
func (r *Registry) GetApproved(_ context.Context, registry common.Address, assetID *big.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approved[domain.AssetKey(registry, assetID)], nil
}

// IsApprovedForAll implements domain.AssetRegistry.
func (r *Registry) IsApprovedForAll(_ context.Context, registry, owner, operator common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operators[operatorKey{registry: registry, owner: owner, operator: operator}], nil
}

// SafeTransferFrom moves the asset, clears its token approval and then asks
// the receiver hook (if any) to accept it. The move and the hook run in one
// savepoint: a rejected transfer leaves no trace.
func (r *Registry) SafeTransferFrom(ctx context.Context, registry, from, to common.Address, assetID *big.Int) error {
	key := domain.AssetKey(registry, assetID)
	return txn.Run(ctx, func(ctx context.Context) error {
		r.mu.Lock()
		owner, ok := r.owners[key]
		switch {
		case !ok:
			r.mu.Unlock()
			return fmt.Errorf("memory registry: transfer %s: %w", key, domain.ErrNotFound)
		case owner != from:
			r.mu.Unlock()
			return fmt.Errorf("memory registry: transfer %s: from %s is not the owner", key, from.Hex())
		case to == (common.Address{}):
			r.mu.Unlock()
			return fmt.Errorf("memory registry: transfer %s: to the zero address", key)
		}
		prevApproved := r.approved[key]
		if prevApproved != r.spender && !r.operators[operatorKey{registry: registry, owner: from, operator: r.spender}] {
			r.mu.Unlock()
			return fmt.Errorf("memory registry: transfer %s: %s not approved", key, r.spender.Hex())
		}
		r.owners[key] = to
		delete(r.approved, key)
		hook := r.receivers[to]
		r.mu.Unlock()

		txn.Record(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.owners[key] = from
			if prevApproved != (common.Address{}) {
				r.approved[key] = prevApproved
			}
		})

		if hook != nil {
			if err := hook(ctx, registry, from, assetID); err != nil {
				return fmt.Errorf("memory registry: receiver %s rejected %s: %w", to.Hex(), key, err)
			}
		}
		return nil
	})
}

// Compile-time interface check.
var _ domain.AssetRegistry = (*Registry)(nil)
