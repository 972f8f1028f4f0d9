package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/market"
	memplatform "github.com/alanyoungcy/royaltymarket/internal/platform/memory"
	"github.com/alanyoungcy/royaltymarket/internal/server/handler"
	"github.com/alanyoungcy/royaltymarket/internal/server/middleware"
	"github.com/alanyoungcy/royaltymarket/internal/service"
	memstore "github.com/alanyoungcy/royaltymarket/internal/store/memory"
)

var (
	marketAddr = common.HexToAddress("0x000000000000000000000000000000000000f001")
	ownerAddr  = common.HexToAddress("0x000000000000000000000000000000000000f002")
	nftAddr    = common.HexToAddress("0x000000000000000000000000000000000000c001")
	sellerAddr = common.HexToAddress("0x000000000000000000000000000000000000b001")
	buyerAddr  = common.HexToAddress("0x000000000000000000000000000000000000b002")
	artistAddr = common.HexToAddress("0x000000000000000000000000000000000000a001")
)

type testAPI struct {
	handler  http.Handler
	registry *memplatform.Registry
	wallet   *memplatform.Wallet
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memstore.New()
	registry := memplatform.NewRegistry(marketAddr)
	wallet := memplatform.NewWallet()

	engine, err := market.New(
		market.Config{Marketplace: marketAddr, Owner: ownerAddr, Fees: market.FeeSchedule{FeeBps: market.DefaultFeeBps}},
		store.Stores(), registry, wallet, nil, logger,
	)
	require.NoError(t, err)

	handlers := Handlers{
		Health: handler.NewHealthHandler(logger, handler.HealthCheck{
			Name:  "store",
			Check: func(context.Context) error { return nil },
		}),
		Market: handler.NewMarketHandler(engine, logger),
		Events: handler.NewEventHandler(service.NewEventService(nil, nil, nil, logger), logger),
	}
	if cfg.SignatureMaxAge == 0 {
		cfg.SignatureMaxAge = time.Minute
	}
	return &testAPI{
		handler:  Routes(cfg, handlers, nil, nil, logger),
		registry: registry,
		wallet:   wallet,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, caller common.Address, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != (common.Address{}) {
		req.Header.Set(middleware.HeaderAccount, caller.Hex())
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (a *testAPI) mint(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, a.registry.Mint(nftAddr, big.NewInt(id), sellerAddr))
	a.registry.Approve(nftAddr, big.NewInt(id), marketAddr)
}

func TestSaleWithRoyaltyOverHTTP(t *testing.T) {
	api := newTestAPI(t, Config{})
	api.mint(t, 1)

	rec, _ := api.do(t, http.MethodPut, "/api/royalties/"+nftAddr.Hex()+"/1", sellerAddr,
		`{"recipient":"`+artistAddr.Hex()+`","percentage_bps":500}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, body := api.do(t, http.MethodPost, "/api/listings", sellerAddr,
		`{"registry":"`+nftAddr.Hex()+`","asset_id":"1","price":"1000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["listing_id"])

	rec, body = api.do(t, http.MethodPost, "/api/listings/1/buy", buyerAddr, `{"payment":"1200"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "25", body["marketplace_fee"])
	assert.Equal(t, "50", body["royalty"])
	assert.Equal(t, "925", body["seller_proceeds"])
	assert.Equal(t, "200", body["refund"])
	assert.Equal(t, big.NewInt(200), api.wallet.Balance(buyerAddr))

	rec, body = api.do(t, http.MethodGet, "/api/listings/1", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["active"])

	rec, body = api.do(t, http.MethodGet, "/api/earnings/"+artistAddr.Hex(), common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", body["balance"])

	rec, body = api.do(t, http.MethodPost, "/api/earnings/withdraw", sellerAddr, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "925", body["amount"])

	rec, body = api.do(t, http.MethodPost, "/api/earnings/withdraw", sellerAddr, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no earnings to withdraw", body["error"])

	rec, body = api.do(t, http.MethodGet, "/api/royalties/"+nftAddr.Hex()+"/1", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(500), body["percentage_bps"])
}

func TestErrorStatuses(t *testing.T) {
	api := newTestAPI(t, Config{})
	api.mint(t, 1)
	api.do(t, http.MethodPost, "/api/listings", sellerAddr, `{"registry":"`+nftAddr.Hex()+`","asset_id":"1","price":"1000"}`)

	cases := []struct {
		name   string
		method string
		path   string
		caller common.Address
		body   string
		want   int
	}{
		{"zero price", http.MethodPost, "/api/listings", sellerAddr, `{"registry":"` + nftAddr.Hex() + `","asset_id":"1","price":"0"}`, http.StatusBadRequest},
		{"not owner", http.MethodPost, "/api/listings", buyerAddr, `{"registry":"` + nftAddr.Hex() + `","asset_id":"1","price":"10"}`, http.StatusForbidden},
		{"underpaid", http.MethodPost, "/api/listings/1/buy", buyerAddr, `{"payment":"999"}`, http.StatusPaymentRequired},
		{"self purchase", http.MethodPost, "/api/listings/1/buy", sellerAddr, `{"payment":"1000"}`, http.StatusBadRequest},
		{"unknown listing", http.MethodPost, "/api/listings/9/buy", buyerAddr, `{"payment":"1000"}`, http.StatusConflict},
		{"cancel by stranger", http.MethodDelete, "/api/listings/1", buyerAddr, "", http.StatusForbidden},
		{"royalty too high", http.MethodPut, "/api/royalties/" + nftAddr.Hex() + "/1", sellerAddr, `{"recipient":"` + artistAddr.Hex() + `","percentage_bps":1001}`, http.StatusBadRequest},
		{"anonymous buy", http.MethodPost, "/api/listings/1/buy", common.Address{}, `{"payment":"1000"}`, http.StatusUnauthorized},
		{"bad id", http.MethodGet, "/api/listings/abc", common.Address{}, "", http.StatusBadRequest},
		{"missing listing", http.MethodGet, "/api/listings/42", common.Address{}, "", http.StatusNotFound},
		{"unknown field", http.MethodPost, "/api/listings/1/buy", buyerAddr, `{"payment":"1000","tip":"1"}`, http.StatusBadRequest},
		{"no stream", http.MethodGet, "/api/events", common.Address{}, "", http.StatusNotImplemented},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := api.do(t, tc.method, tc.path, tc.caller, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec, _ := api.do(t, http.MethodDelete, "/api/listings/1", ownerAddr, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body := api.do(t, http.MethodGet, "/api/listings/current", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["listing_id"])
}

func TestListListingsFilters(t *testing.T) {
	api := newTestAPI(t, Config{})
	for id := int64(1); id <= 3; id++ {
		api.mint(t, id)
		rec, _ := api.do(t, http.MethodPost, "/api/listings", sellerAddr,
			`{"registry":"`+nftAddr.Hex()+`","asset_id":"`+big.NewInt(id).String()+`","price":"100"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	api.do(t, http.MethodDelete, "/api/listings/2", sellerAddr, "")

	rec, body := api.do(t, http.MethodGet, "/api/listings", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["listings"], 2)

	_, body = api.do(t, http.MethodGet, "/api/listings?active=false&limit=1", common.Address{}, "")
	listings := body["listings"].([]any)
	require.Len(t, listings, 1)
	assert.Equal(t, float64(3), listings[0].(map[string]any)["id"])

	_, body = api.do(t, http.MethodGet, "/api/listings?seller="+buyerAddr.Hex(), common.Address{}, "")
	assert.Empty(t, body["listings"])
}

func TestAPIKeyAndHealth(t *testing.T) {
	api := newTestAPI(t, Config{APIKey: "k"})

	rec, body := api.do(t, http.MethodGet, "/api/health", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = api.do(t, http.MethodGet, "/api/listings", common.Address{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestHealthDegraded(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := handler.NewHealthHandler(logger, handler.HealthCheck{
		Name:  "postgres",
		Check: func(context.Context) error { return errors.New("down") },
	})
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireSignatures(t *testing.T) {
	api := newTestAPI(t, Config{RequireSignatures: true})
	rec, _ := api.do(t, http.MethodPost, "/api/earnings/withdraw", sellerAddr, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
