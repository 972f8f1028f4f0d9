// Package evm implements domain.AssetRegistry against ERC-721 contracts on an
// EVM chain. Reads are eth_calls; transfers are signed by the marketplace key
// and waited on until they reach the configured confirmation depth.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

const erc721ABI = `[
 {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

var parsedABI = mustParseABI(erc721ABI)

func mustParseABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: parse erc721 abi: %v", err))
	}
	return a
}

// Backend is the subset of *ethclient.Client the registry uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds the chain parameters for a Registry.
type Config struct {
	ChainID        *big.Int
	Confirmations  uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Registry talks to ERC-721 contracts through backend. The marketplace key
// is the operator for every transfer.
type Registry struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     Config
	logger  *slog.Logger

	// mu serialises nonce allocation and submission.
	mu sync.Mutex
}

// NewRegistry creates a Registry. Confirmations below 1 are treated as 1.
func NewRegistry(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Registry, error) {
	if backend == nil {
		return nil, errors.New("evm: backend is required")
	}
	if key == nil {
		return nil, errors.New("evm: signing key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("evm: chain id must be positive")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Registry{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "evm_registry")),
	}, nil
}

// Operator returns the address transfers are sent from. It must be the
// marketplace address owners approve.
func (r *Registry) Operator() common.Address { return r.from }

// OwnerOf returns the asset's owner. A reverted call (nonexistent token)
// maps to domain.ErrNotFound.
func (r *Registry) OwnerOf(ctx context.Context, registry common.Address, assetID *big.Int) (common.Address, error) {
	var owner common.Address
	if err := r.call(ctx, registry, &owner, "ownerOf", assetID); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

// GetApproved returns the single-asset approval for assetID.
func (r *Registry) GetApproved(ctx context.Context, registry common.Address, assetID *big.Int) (common.Address, error) {
	var approved common.Address
	if err := r.call(ctx, registry, &approved, "getApproved", assetID); err != nil {
		return common.Address{}, err
	}
	return approved, nil
}

// IsApprovedForAll reports whether operator may move all of owner's assets.
func (r *Registry) IsApprovedForAll(ctx context.Context, registry common.Address, owner, operator common.Address) (bool, error) {
	var ok bool
	if err := r.call(ctx, registry, &ok, "isApprovedForAll", owner, operator); err != nil {
		return false, err
	}
	return ok, nil
}

// SafeTransferFrom submits safeTransferFrom(from, to, assetID) and waits for
// the receipt. A reverted transaction is an error.
func (r *Registry) SafeTransferFrom(ctx context.Context, registry common.Address, from, to common.Address, assetID *big.Int) error {
	input, err := parsedABI.Pack("safeTransferFrom", from, to, assetID)
	if err != nil {
		return fmt.Errorf("evm: pack safeTransferFrom: %w", err)
	}

	tx, err := r.send(ctx, registry, input)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "transfer submitted",
		slog.String("tx", tx.Hash().Hex()),
		slog.String("registry", registry.Hex()),
		slog.String("asset_id", assetID.String()),
		slog.String("to", to.Hex()),
	)

	receipt, err := r.waitMined(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: transfer %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber)
	}
	return nil
}

func (r *Registry) call(ctx context.Context, registry common.Address, out any, method string, args ...any) error {
	input, err := parsedABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("evm: pack %s: %w", method, err)
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &registry, Data: input}, nil)
	if err != nil {
		if isRevert(err) {
			return fmt.Errorf("evm: %s on %s: %w", method, registry.Hex(), domain.ErrNotFound)
		}
		return fmt.Errorf("evm: %s on %s: %w", method, registry.Hex(), err)
	}
	values, err := parsedABI.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return fmt.Errorf("evm: %s returned %d values", method, len(values))
	}

	switch dst := out.(type) {
	case *common.Address:
		v, ok := values[0].(common.Address)
		if !ok {
			return fmt.Errorf("evm: %s: unexpected %T", method, values[0])
		}
		*dst = v
	case *bool:
		v, ok := values[0].(bool)
		if !ok {
			return fmt.Errorf("evm: %s: unexpected %T", method, values[0])
		}
		*dst = v
	default:
		return fmt.Errorf("evm: %s: unsupported output %T", method, out)
	}
	return nil
}

func (r *Registry) send(ctx context.Context, to common.Address, input []byte) (*types.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, err := r.backend.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, fmt.Errorf("evm: nonce: %w", err)
	}
	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: gas price: %w", err)
	}
	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{From: r.from, To: &to, Data: input})
	if err != nil {
		// A transfer that would revert (unapproved, rejecting receiver) fails
		// estimation before anything is sent.
		return nil, fmt.Errorf("evm: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.cfg.ChainID), r.key)
	if err != nil {
		return nil, fmt.Errorf("evm: sign: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("evm: send: %w", err)
	}
	return signed, nil
}

// waitMined polls for the receipt and then for the confirmation depth.
func (r *Registry) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			head, herr := r.backend.BlockNumber(ctx)
			if herr != nil {
				return nil, fmt.Errorf("evm: block number: %w", herr)
			}
			if head+1 >= receipt.BlockNumber.Uint64()+r.cfg.Confirmations {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("evm: receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
