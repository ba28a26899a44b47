package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/domain/lifecycle"
	"github.com/codesphere/backend/internal/domain/room"
	"github.com/codesphere/backend/internal/infrastructure/logging"
	"github.com/codesphere/backend/internal/shared/id"
)

// Options configures the hub's transport.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageBytes int64
	SendBuffer      int
	PingPeriod      time.Duration
	WriteWait       time.Duration
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any.
	AllowedOrigins []string
}

// DefaultOptions returns transport defaults.
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageBytes: 1 << 20,
		SendBuffer:      256,
		PingPeriod:      30 * time.Second,
		WriteWait:       10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// Recorder receives websocket metrics.
type Recorder interface {
	RecordWSMessage(direction, msgType string)
	RecordWSDrop(reason string)
	IncWSConnections()
	DecWSConnections()
}

type nopRecorder struct{}

func (nopRecorder) RecordWSMessage(string, string) {}
func (nopRecorder) RecordWSDrop(string)            {}
func (nopRecorder) IncWSConnections()              {}
func (nopRecorder) DecWSConnections()              {}

// Hub routes collaboration events between connections and the room store.
type Hub struct {
	store     *room.Store
	lifecycle *lifecycle.Manager
	log       *logging.Logger
	metrics   Recorder
	opts      Options

	upgrader  websocket.Upgrader
	codec     *codec
	sanitizer *bluemonday.Policy

	mu      sync.RWMutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// NewHub creates a hub over the given store and lifecycle manager.
func NewHub(store *room.Store, lc *lifecycle.Manager, opts Options, log *logging.Logger, metrics Recorder) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = def.AllowedOrigins
	}
	if log == nil {
		log = logging.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}

	h := &Hub{
		store:     store,
		lifecycle: lc,
		log:       log,
		metrics:   metrics,
		opts:      opts,
		codec:     newCodec(),
		sanitizer: bluemonday.StrictPolicy(),
		clients:   make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// HandleConnection upgrades the request and serves the connection until it
// closes.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.Serve(conn)
}

// Serve runs an already upgraded connection until it closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	client := newClient(h, conn, id.NewConnectionID().String())
	h.register(client)
	defer h.unregister(client)

	go client.writePump()
	client.readPump()
}

// Connections returns the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their departures to be
// processed.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
	h.wg.Wait()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.wg.Add(1)
	h.metrics.IncWSConnections()
	c.log.Info("Client connected")
}

// unregister removes the connection from every room it joined. Remaining
// members are told, and rooms left empty start their grace period.
func (h *Hub) unregister(c *Client) {
	defer h.wg.Done()

	h.store.RemoveConnection(c.id, func(d room.Departure, snap room.Snapshot) {
		h.announceDeparture(snap, d.Member)
	})

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.close()
	h.metrics.DecWSConnections()
	c.log.Info("Client disconnected")
}

// announceDeparture runs under the room lock.
func (h *Hub) announceDeparture(snap room.Snapshot, m room.Member) {
	h.broadcast(snap, m.ConnectionID, TypeUserLeft, userView(m))
	h.broadcast(snap, "", TypeRosterUpdate, RosterMessage{RoomID: snap.ID, Users: roster(snap)})
	if len(snap.Members) == 0 && h.lifecycle != nil {
		h.lifecycle.Schedule(snap.ID)
	}
}

// broadcast encodes one frame and enqueues it for every member of the room
// except the excluded connection. It must be called under the room lock so
// frames leave in room order.
func (h *Hub) broadcast(snap room.Snapshot, exclude, kind string, payload interface{}) {
	frame, err := encode(kind, payload)
	if err != nil {
		h.log.Error("Failed to encode frame", zap.String("type", kind), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range snap.Members {
		if m.ConnectionID == exclude {
			continue
		}
		if c, ok := h.clients[m.ConnectionID]; ok && c.enqueue(frame) {
			h.metrics.RecordWSMessage("out", kind)
		}
	}
}

// reply sends a frame to a single connection.
func (h *Hub) reply(c *Client, kind string, payload interface{}) {
	frame, err := encode(kind, payload)
	if err != nil {
		h.log.Error("Failed to encode frame", zap.String("type", kind), zap.Error(err))
		return
	}
	if c.enqueue(frame) {
		h.metrics.RecordWSMessage("out", kind)
	}
}

func (h *Hub) pongWait() time.Duration {
	return h.opts.PingPeriod + h.opts.WriteWait
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.log.Debug("Rejected websocket origin", zap.String("origin", origin))
	return false
}
