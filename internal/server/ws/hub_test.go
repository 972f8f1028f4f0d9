package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, Config{}, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients) == n
	}, 2*time.Second, 5*time.Millisecond)
}

const salePayload = `{"event":"sale_completed","listing_id":1,"price":"1000"}`

func TestHubJSONFrames(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"/ws?format=json")
	waitClients(t, hub, 1)

	hub.Broadcast(domain.EventsChannel, []byte(salePayload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, salePayload, string(data))
}

func TestHubProtoFrames(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"/ws")
	waitClients(t, hub, 1)

	hub.Broadcast(domain.EventsChannel, []byte(salePayload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	assert.Equal(t, "sale_completed", st.Fields["event"].GetStringValue())
	assert.Equal(t, float64(1), st.Fields["listing_id"].GetNumberValue())
}

func TestHubEventFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"/ws?format=json&event=listing_cancelled")
	waitClients(t, hub, 1)

	hub.Broadcast(domain.EventsChannel, []byte(salePayload))
	hub.Broadcast(domain.EventsChannel, []byte(`{"event":"listing_cancelled","listing_id":2}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "listing_cancelled")
}
