package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/pkg/exception"
)

// Streamer is the market side of the hub. Subscribe and Unsubscribe
// manage per-client symbol interest, Disconnect releases everything a
// client held.
type Streamer interface {
	Subscribe(ctx context.Context, clientID string, symbols ...string) error
	Unsubscribe(ctx context.Context, clientID string, symbols ...string)
	Disconnect(ctx context.Context, clientID string)
	RecentTicks(symbol string, limit int) []model.Tick
}

type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PongTimeout   time.Duration
	PingInterval  time.Duration
}

func (cfg Config) normalize() Config {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	return cfg
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan model.Envelope

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub fans envelopes out to websocket clients. Each client owns a
// bounded send queue; a full queue or a write error disconnects that
// client only.
type Hub struct {
	cfg      Config
	streamer Streamer
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	byUser  map[string]map[string]struct{}

	running atomic.Bool
}

func NewHub(cfg Config, streamer Streamer) *Hub {
	return &Hub{
		cfg:      cfg.normalize(),
		streamer: streamer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the client until its
// connection dies.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("upgrade websocket, err: %+v", err)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")

	c := &client{
		id:     clientID,
		userID: userID,
		conn:   conn,
		send:   make(chan model.Envelope, h.cfg.SendQueueSize),
	}

	h.register(c)
	go h.writePump(c)
	h.readPump(r.Context(), c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.id]; ok {
		old.close()
	}
	h.clients[c.id] = c
	if c.userID != "" {
		set, ok := h.byUser[c.userID]
		if !ok {
			set = make(map[string]struct{})
			h.byUser[c.userID] = set
		}
		set[c.id] = struct{}{}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		if c.userID != "" {
			set := h.byUser[c.userID]
			delete(set, c.id)
			if len(set) == 0 {
				delete(h.byUser, c.userID)
			}
		}
	}
	h.mu.Unlock()

	c.close()
	_ = c.conn.Close()
}

// Deliver enqueues one envelope for a client. It fails when the client
// is unknown or its queue is full; the caller decides what to do about
// the client.
func (h *Hub) Deliver(clientID string, env model.Envelope) error {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", clientID, exception.ErrSubscriberGone)
	}

	select {
	case c.send <- env:
		return nil
	default:
		return fmt.Errorf("send queue full for client %s: %w", clientID, exception.ErrSubscriberGone)
	}
}

// Drop removes a client and closes its connection.
func (h *Hub) Drop(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if ok {
		h.unregister(c)
	}
}

// OnOrderUpdate routes an order snapshot to every connection of the
// order's owner.
func (h *Hub) OnOrderUpdate(order model.Order) {
	h.deliverToUser(order.UserID, model.NewEnvelope(enum.EnvelopeOrderUpdate, order.Symbol, order))
}

// OnTradeUpdate routes a fill to every connection of the trade's owner.
func (h *Hub) OnTradeUpdate(trade model.Trade) {
	h.deliverToUser(trade.UserID, model.NewEnvelope(enum.EnvelopeTradeUpdate, trade.Symbol, trade))
}

func (h *Hub) deliverToUser(userID string, env model.Envelope) {
	if userID == "" {
		return
	}

	h.mu.Lock()
	ids := make([]string, 0, len(h.byUser[userID]))
	for id := range h.byUser[userID] {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if err := h.Deliver(id, env); err != nil {
			logs.Warnf("deliver %s to %s, err: %+v", env.Type, id, err)
			h.Drop(id)
			if h.streamer != nil {
				h.streamer.Disconnect(context.Background(), id)
			}
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logs.Warnf("write to %s, err: %+v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// command is the inbound client protocol.
type command struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
	Limit   int      `json:"limit"`
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		h.unregister(c)
		if h.streamer != nil {
			h.streamer.Disconnect(context.Background(), c.id)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warnf("read from %s, err: %+v", c.id, err)
			}
			return
		}

		if err := h.handleCommand(ctx, c, cmd); err != nil {
			logs.Warnf("handle %s from %s, err: %+v", cmd.Op, c.id, err)
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, c *client, cmd command) error {
	if h.streamer == nil {
		return errors.New("no streamer attached")
	}

	switch cmd.Op {
	case "subscribe":
		if err := h.streamer.Subscribe(ctx, c.id, cmd.Symbols...); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		// replay the cached window so new subscribers do not start blind
		for _, symbol := range cmd.Symbols {
			limit := cmd.Limit
			if limit <= 0 {
				limit = 50
			}
			for _, tick := range h.streamer.RecentTicks(symbol, limit) {
				if err := h.Deliver(c.id, model.NewEnvelope(enum.EnvelopeTick, symbol, tick)); err != nil {
					return fmt.Errorf("replay recent ticks: %w", err)
				}
			}
		}
		return nil
	case "unsubscribe":
		h.streamer.Unsubscribe(ctx, c.id, cmd.Symbols...)
		return nil
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}

// Len reports the connected client count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown drops every client.
func (h *Hub) Shutdown() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
