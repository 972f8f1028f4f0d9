package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

var sale = domain.Event{
	Kind:      domain.EventSaleCompleted,
	ListingID: 4,
	Registry:  common.HexToAddress("0x000000000000000000000000000000000000c001"),
	AssetID:   big.NewInt(9),
	Seller:    common.HexToAddress("0x000000000000000000000000000000000000b001"),
	Buyer:     common.HexToAddress("0x000000000000000000000000000000000000b002"),
	Price:     big.NewInt(1000),
}

func TestNotifierFiltersByKind(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{" sale_completed "}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.NotifyEvent(context.Background(), sale))
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Kind: domain.EventRoyaltySet}))
	assert.Equal(t, []string{"Listing #4 sold"}, s.titles)

	all := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))
	assert.True(t, all.Enabled(domain.EventRoyaltySet))
	assert.False(t, NewNotifier(nil, nil, slog.New(slog.DiscardHandler)).Enabled(domain.EventSaleCompleted))
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.NotifyEvent(context.Background(), sale)
	assert.ErrorContains(t, err, "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestFormat(t *testing.T) {
	title, msg := Format(sale)
	assert.Equal(t, "Listing #4 sold", title)
	assert.Contains(t, msg, "for 1000")

	title, msg = Format(domain.Event{Kind: domain.EventEarningsWithdrawn, Party: sale.Seller})
	assert.Equal(t, "Earnings withdrawn", title)
	assert.Contains(t, msg, "withdrew 0")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "t", "m"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "t\nm", got["text"])
}

func TestDiscordSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Embeds []discordEmbed `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if len(body.Embeds) != 1 || body.Embeds[0].Title != "ok" {
			http.Error(w, "bad embed", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "ok", "body"))
	assert.ErrorContains(t, s.Send(context.Background(), "nope", "body"), "unexpected status 400")
}
