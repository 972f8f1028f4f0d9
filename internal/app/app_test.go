package app

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/config"
	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/service"
)

var (
	testMarket   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOwner    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testRegistry = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testSeller   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Market.Address = testMarket.Hex()
	cfg.Market.Owner = testOwner.Hex()
	return &cfg
}

type fakeArchiver struct {
	calls  int
	before time.Time
}

func (f *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return 3, nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestWireMemorySeedsRegistry(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Chain.Seed = []config.SeedAsset{
		{Registry: testRegistry.Hex(), AssetID: "7", Owner: testSeller.Hex()},
	}

	deps, cleanup, err := Wire(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Payouts)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Archiver)

	owner, err := deps.Registry.OwnerOf(ctx, testRegistry, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, testSeller, owner)

	approved, err := deps.Registry.IsApprovedForAll(ctx, testRegistry, testSeller, testMarket)
	require.NoError(t, err)
	assert.True(t, approved)

	a := New(cfg, slog.New(slog.DiscardHandler))
	engine, err := a.newEngine(deps, service.NewEventService(nil, nil, deps.Notifier, a.logger))
	require.NoError(t, err)

	id, err := engine.ListAsset(ctx, testSeller, testRegistry, big.NewInt(7), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestWireRejectsDuplicateSeed(t *testing.T) {
	cfg := testConfig()
	seed := config.SeedAsset{Registry: testRegistry.Hex(), AssetID: "1", Owner: testSeller.Hex()}
	cfg.Chain.Seed = []config.SeedAsset{seed, seed}

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed registry")
}

func TestWireEvmRejectsBadKey(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Registry = "evm"
	cfg.Chain.RPCURL = "http://127.0.0.1:1"
	cfg.Wallet.PrivateKey = "not-a-key"

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: wallet")
}

func TestArchiveOnceUsesRetentionCutoff(t *testing.T) {
	cfg := testConfig()
	cfg.Archive.RetentionDays = 30
	arch := &fakeArchiver{}
	a := New(cfg, slog.New(slog.DiscardHandler))

	require.NoError(t, a.archiveOnce(context.Background(), &Dependencies{Archiver: arch}))
	assert.Equal(t, 1, arch.calls)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), arch.before, time.Minute)
}

func TestArchiveOnceSkipsWhenLockHeld(t *testing.T) {
	arch := &fakeArchiver{}
	a := New(testConfig(), slog.New(slog.DiscardHandler))

	err := a.archiveOnce(context.Background(), &Dependencies{Archiver: arch, LockManager: heldLocks{}})
	require.NoError(t, err)
	assert.Zero(t, arch.calls)
}

func TestArchiveModeNeedsArchiver(t *testing.T) {
	a := New(testConfig(), slog.New(slog.DiscardHandler))
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archiver")
}

func TestBuildNotifier(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	n := buildNotifier(config.NotifyConfig{Events: []string{"sale_completed"}}, logger)
	assert.False(t, n.Enabled(domain.EventSaleCompleted), "no senders configured")

	n = buildNotifier(config.NotifyConfig{
		DiscordWebhookURL: "https://discord.example/hook",
		Events:            []string{"sale_completed"},
	}, logger)
	assert.True(t, n.Enabled(domain.EventSaleCompleted))
	assert.False(t, n.Enabled(domain.EventRoyaltySet))
}
