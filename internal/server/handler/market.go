package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/market"
)

// Marketplace is the engine surface the HTTP API exposes.
type Marketplace interface {
	ListAsset(ctx context.Context, seller, registry common.Address, assetID, price *big.Int) (uint64, error)
	GetListing(ctx context.Context, id uint64) (domain.Listing, error)
	GetCurrentListingID(ctx context.Context) (uint64, error)
	ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	Buy(ctx context.Context, buyer common.Address, id uint64, payment *big.Int) (market.Receipt, error)
	CancelListing(ctx context.Context, caller common.Address, id uint64) error
	SetRoyalty(ctx context.Context, caller, registry common.Address, assetID *big.Int, recipient common.Address, bps uint16) error
	GetRoyaltyInfo(ctx context.Context, registry common.Address, assetID *big.Int) (domain.RoyaltyAssignment, error)
	WithdrawEarnings(ctx context.Context, caller common.Address) (*big.Int, error)
	GetUserEarnings(ctx context.Context, party common.Address) (*big.Int, error)
}

// MarketHandler serves listings, royalties and earnings.
type MarketHandler struct {
	market Marketplace
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(m Marketplace, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: m, logger: logger.With(slog.String("handler", "market"))}
}

type listingView struct {
	ID        uint64     `json:"id"`
	Registry  string     `json:"registry"`
	AssetID   string     `json:"asset_id"`
	Seller    string     `json:"seller"`
	Price     string     `json:"price"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func toListingView(l domain.Listing) listingView {
	return listingView{
		ID:        l.ID,
		Registry:  l.Registry.Hex(),
		AssetID:   amountString(l.AssetID),
		Seller:    l.Seller.Hex(),
		Price:     amountString(l.Price),
		Active:    l.Active,
		CreatedAt: l.CreatedAt,
		ClosedAt:  l.ClosedAt,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type createListingRequest struct {
	Registry string `json:"registry"`
	AssetID  string `json:"asset_id"`
	Price    string `json:"price"`
}

// CreateListing lists an asset owned by the caller.
// POST /api/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	registry, err := parseAddress(req.Registry)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetID, err := parseAmount(req.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	id, err := h.market.ListAsset(r.Context(), caller, registry, assetID, price)
	if err != nil {
		writeDomainError(w, r, h.logger, "list asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"listing_id": id})
}

// ListListings returns listings, newest first.
// GET /api/listings?seller=0x..&active=true&limit=50&offset=0
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaging(r)
	f := domain.ListingFilter{
		ActiveOnly: q.Get("active") != "false",
		Limit:      limit,
		Offset:     offset,
	}
	if s := q.Get("seller"); s != "" {
		seller, err := parseAddress(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Seller = &seller
	}

	listings, err := h.market.ListListings(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.logger, "list listings", err)
		return
	}
	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, toListingView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": views,
		"limit":    limit,
		"offset":   offset,
	})
}

// CurrentListingID returns the last issued listing id.
// GET /api/listings/current
func (h *MarketHandler) CurrentListingID(w http.ResponseWriter, r *http.Request) {
	id, err := h.market.GetCurrentListingID(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "current listing id", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"listing_id": id})
}

// GetListing returns one listing; ids never issued are a 404.
// GET /api/listings/{id}
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseListingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.market.GetListing(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get listing", err)
		return
	}
	if !l.Exists() {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

type buyRequest struct {
	Payment string `json:"payment"`
}

// Buy settles a listing for the caller.
// POST /api/listings/{id}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := parseListingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payment, err := parseAmount(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := h.market.Buy(r.Context(), caller, id, payment)
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id":        rc.ListingID,
		"registry":          rc.Registry.Hex(),
		"asset_id":          amountString(rc.AssetID),
		"seller":            rc.Seller.Hex(),
		"buyer":             rc.Buyer.Hex(),
		"price":             amountString(rc.Split.Price),
		"marketplace_fee":   amountString(rc.Split.MarketplaceFee),
		"royalty":           amountString(rc.Split.Royalty),
		"royalty_recipient": rc.Split.RoyaltyRecipient.Hex(),
		"seller_proceeds":   amountString(rc.Split.SellerProceeds),
		"refund":            amountString(rc.Refund),
	})
}

// CancelListing withdraws a listing. Only its seller or the owner may.
// DELETE /api/listings/{id}
func (h *MarketHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := parseListingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.market.CancelListing(r.Context(), caller, id); err != nil {
		writeDomainError(w, r, h.logger, "cancel listing", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseAsset(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	registry, err := parseAddress(r.PathValue("registry"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}
	assetID, err := parseAmount(r.PathValue("asset_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}
	return registry, assetID, true
}

type setRoyaltyRequest struct {
	Recipient     string `json:"recipient"`
	PercentageBps uint16 `json:"percentage_bps"`
}

// SetRoyalty assigns the royalty for an asset the caller owns.
// PUT /api/royalties/{registry}/{asset_id}
func (h *MarketHandler) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	registry, assetID, ok := parseAsset(w, r)
	if !ok {
		return
	}
	var req setRoyaltyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.market.SetRoyalty(r.Context(), caller, registry, assetID, recipient, req.PercentageBps); err != nil {
		writeDomainError(w, r, h.logger, "set royalty", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRoyalty returns the royalty assignment; an unset royalty reports the
// zero address and 0 bps.
// GET /api/royalties/{registry}/{asset_id}
func (h *MarketHandler) GetRoyalty(w http.ResponseWriter, r *http.Request) {
	registry, assetID, ok := parseAsset(w, r)
	if !ok {
		return
	}
	ra, err := h.market.GetRoyaltyInfo(r.Context(), registry, assetID)
	if err != nil {
		writeDomainError(w, r, h.logger, "get royalty", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":       registry.Hex(),
		"asset_id":       assetID.String(),
		"recipient":      ra.Recipient.Hex(),
		"percentage_bps": ra.PercentageBps,
	})
}

// GetEarnings returns a party's withdrawable balance.
// GET /api/earnings/{party}
func (h *MarketHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress(r.PathValue("party"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := h.market.GetUserEarnings(r.Context(), party)
	if err != nil {
		writeDomainError(w, r, h.logger, "get earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"party": party.Hex(), "balance": amountString(bal)})
}

// Withdraw pays out the caller's whole balance.
// POST /api/earnings/withdraw
func (h *MarketHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := h.market.WithdrawEarnings(r.Context(), caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"party": caller.Hex(), "amount": amountString(amount)})
}
