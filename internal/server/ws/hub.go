// Package ws streams committed marketplace events to WebSocket clients.
// Clients pick a frame format when connecting: ?format=json sends text
// frames holding the event JSON, anything else sends binary frames holding a
// protobuf-encoded google.protobuf.Struct.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Config holds hub options.
type Config struct {
	// AllowedOrigins restricts the Origin header; empty allows all.
	AllowedOrigins []string
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame

	mu    sync.RWMutex
	kinds map[string]bool // empty means every kind
	proto bool
}

// frame is one outgoing message.
type frame struct {
	kind int
	data []byte
}

// filterMsg lets a client narrow the event kinds it receives:
//
//	{"action":"subscribe","events":["sale_completed"]}
type filterMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// Hub tracks connected clients and broadcasts events to them. Events arrive
// either from Broadcast or, when a bus is configured, from the bus channel.
type Hub struct {
	bus      domain.EventBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub. bus may be nil.
func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*client]bool),
	}
}

// Broadcast queues an event payload for every client. It never blocks; a
// full queue drops the payload.
func (h *Hub) Broadcast(_ string, payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
	}
}

// Run is the hub loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		msgs, err := h.bus.Subscribe(ctx, domain.EventsChannel)
		if err != nil {
			return err
		}
		go h.forward(ctx, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			h.Broadcast(domain.EventsChannel, payload)
		}
	}
}

// fanOut encodes payload once per format and queues it for each interested
// client.
func (h *Hub) fanOut(payload []byte) {
	var detail map[string]any
	if err := json.Unmarshal(payload, &detail); err != nil {
		h.logger.Warn("undecodable event payload", slog.String("error", err.Error()))
		return
	}
	kind, _ := detail["event"].(string)

	var binary []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(kind) {
			continue
		}
		f := frame{kind: websocket.TextMessage, data: payload}
		if c.proto {
			if binary == nil {
				var err error
				if binary, err = EncodeProto(detail); err != nil {
					h.logger.Warn("proto encode failed", slog.String("error", err.Error()))
					return
				}
			}
			f = frame{kind: websocket.BinaryMessage, data: binary}
		}
		select {
		case c.send <- f:
		default:
			h.logger.Warn("dropping event for slow client")
		}
	}
}

// EncodeProto renders an event detail map as a serialized
// google.protobuf.Struct.
func EncodeProto(detail map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(detail)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan frame, sendBufferSize),
		kinds: make(map[string]bool),
		proto: r.URL.Query().Get("format") != "json",
	}
	for _, k := range r.URL.Query()["event"] {
		c.kinds[k] = true
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg filterMsg
		if json.Unmarshal(message, &msg) != nil {
			continue
		}
		c.applyFilter(msg)
	}
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Events {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Events {
			delete(c.kinds, k)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
