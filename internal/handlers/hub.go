package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/channel"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/worker"
	"github.com/linetrace/simulator/pkg/core"
	"github.com/linetrace/simulator/pkg/streaming"
)

const (
	clientSendSize = 256
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// client is one WebSocket connection. Only the write pump touches conn for
// writing.
type client struct {
	conn   *ws.Conn
	outbox *channel.Outbox[[]byte]

	mu     sync.Mutex
	joined bool
}

func newClient(conn *ws.Conn) *client {
	return &client{conn: conn, outbox: channel.NewOutbox[[]byte](clientSendSize)}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.outbox.Receive() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(ws.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
}

var _ sim.Observer = (*Hub)(nil)

// Hub keeps the WebSocket clients of the room and fans simulation events
// out to them. It implements sim.Observer.
type Hub struct {
	svc      *Service
	upgrader ws.Upgrader
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	lastSent time.Time

	dropped atomic.Uint64
}

func newHub(svc *Service) *Hub {
	return &Hub{
		svc: svc,
		upgrader: ws.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		logger:   svc.deps.Logger,
		interval: svc.deps.SnapshotInterval,
		now:      svc.deps.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Clients returns the number of joined clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and serves the client until it leaves.
// A room query parameter joins immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	c := newClient(conn)
	go c.writePump()
	defer h.leave(c)

	if room := r.URL.Query().Get("room"); room != "" {
		if !h.join(c, room) {
			return
		}
	}
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				h.logger.Debug("WebSocket read failed", "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reply(c, streaming.TypeError, streaming.ErrorPayload{Message: "invalid message"})
			continue
		}

		switch env.Type {
		case streaming.TypeJoin:
			var p streaming.JoinPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: env.Type, Message: "invalid join"})
				continue
			}
			if !h.join(c, p.Room) {
				return
			}
		case streaming.TypeSpawn:
			h.handleSpawn(c, env.Payload)
		default:
			h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: env.Type, Message: "unknown message type"})
		}
	}
}

func (h *Hub) handleSpawn(c *client, payload json.RawMessage) {
	if !h.isJoined(c) {
		h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: streaming.TypeSpawn, Message: "join a room first"})
		return
	}
	d, err := h.svc.deps.Parser.ParseDesign(payload)
	if err != nil {
		h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: streaming.TypeSpawn, Message: err.Error()})
		return
	}
	if err := h.svc.spawn(d, SourceWebSocket); err != nil {
		h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: streaming.TypeSpawn, Message: err.Error()})
		return
	}
	h.pushRaw(c, streaming.AckMessage{Type: streaming.TypeAck, For: streaming.TypeSpawn})
}

func (h *Hub) isJoined(c *client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// join adds the client to the room. An unknown room is reported to the
// client and the connection is closed.
func (h *Hub) join(c *client, room string) bool {
	if room != h.svc.room() {
		h.reply(c, streaming.TypeError, streaming.ErrorPayload{For: streaming.TypeJoin, Message: ErrUnknownRoom.Error()})
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()

	joined := streaming.JoinedPayload{Room: room}
	if h.svc.deps.World != nil {
		joined.Tick = h.svc.deps.World.Stats().Tick
		joined.Course = coursePoints(h.svc.deps.World.Course())
	}
	h.reply(c, streaming.TypeJoined, joined)
	h.logger.Debug("WebSocket client joined", "room", room)
	return true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.outbox.Close()
}

func (h *Hub) reply(c *client, msgType string, payload any) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error("Error encoding message", "error", err)
		return
	}
	h.pushRaw(c, env)
}

func (h *Hub) pushRaw(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Error encoding message", "error", err)
		return
	}
	if !c.outbox.TrySend(data) {
		h.dropped.Add(1)
	}
}

// Broadcast sends a message to every joined client. Clients whose queue is
// full miss the message.
func (h *Hub) Broadcast(msgType string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error("Error encoding broadcast", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Error encoding broadcast", "type", msgType, "error", err)
		return
	}
	for c := range h.clients {
		if !c.outbox.TrySend(data) {
			h.dropped.Add(1)
		}
	}
}

// Close disconnects every client and refuses new joins.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		c.outbox.Close()
	}
	clear(h.clients)
}

// AgentSpawned announces a new vehicle.
func (h *Hub) AgentSpawned(_ uint64, s agent.Snapshot) {
	h.Broadcast(streaming.TypeSpawned, worker.SnapshotToVehicle(s, h.now()))
}

// AgentRemoved announces a removed vehicle.
func (h *Hub) AgentRemoved(tick uint64, s agent.Snapshot, reason agent.RemovalReason) {
	h.Broadcast(streaming.TypeRemoved, core.Removal{
		VehicleID: uint(s.ID),
		Tick:      tick,
		Time:      h.now(),
		Reason:    string(reason),
		Position:  core.Position3D{X: s.Position[0], Y: s.Position[1], Z: s.Position[2]},
		Age:       tick - s.SpawnTick,
	})
}

// TickCompleted pushes a snapshot at most once per snapshot interval.
func (h *Hub) TickCompleted(st sim.Stats) {
	now := h.now()

	h.mu.Lock()
	if len(h.clients) == 0 || now.Sub(h.lastSent) < h.interval {
		h.mu.Unlock()
		return
	}
	h.lastSent = now
	h.mu.Unlock()

	vehicles := make([]core.VehicleState, len(st.Agents))
	for i, s := range st.Agents {
		vehicles[i] = worker.SnapshotToState(st.Tick, s, now)
	}
	h.Broadcast(streaming.TypeSnapshot, streaming.SnapshotPayload{Tick: st.Tick, Vehicles: vehicles})
}
