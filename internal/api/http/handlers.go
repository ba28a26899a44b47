package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/codesphere/backend/internal/domain/lifecycle"
	"github.com/codesphere/backend/internal/domain/room"
	"github.com/codesphere/backend/internal/domain/runner"
	"github.com/codesphere/backend/internal/infrastructure/logging"
)

const (
	serviceName = "CodeSphere collaboration server"
	version     = "1.0.0"
)

// Executor runs code submissions.
type Executor interface {
	Execute(ctx context.Context, req runner.Request) runner.Result
	Languages() []runner.LanguageInfo
	Timeout() time.Duration
	BreakerStates() map[string]string
}

// ConnectionCounter reports live event channel connections.
type ConnectionCounter interface {
	Connections() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	rooms     *room.Store
	lifecycle *lifecycle.Manager
	executor  Executor
	hub       ConnectionCounter
	log       *logging.Logger
	validate  *validator.Validate
	started   time.Time
}

// NewHandlers creates a new handler set. hub may be nil.
func NewHandlers(rooms *room.Store, lc *lifecycle.Manager, executor Executor, hub ConnectionCounter, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		rooms:     rooms,
		lifecycle: lc,
		executor:  executor,
		hub:       hub,
		log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		started:   time.Now(),
	}
}

// Register mounts the REST routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/languages", h.ListLanguages)
	r.POST("/execute", h.Execute)
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:id", h.RoomStatus)
	r.GET("/metrics/json", h.Stats)
}

// Root handles liveness
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"rooms":       h.rooms.Len(),
		"connections": h.connections(),
	})
}

// ListLanguages reports the executable languages on this host
func (h *Handlers) ListLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"languages": h.executor.Languages(),
		"timeoutMs": h.executor.Timeout().Milliseconds(),
	})
}

// Stats returns an aggregated JSON view of server state
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":            h.rooms.Len(),
		"connections":      h.connections(),
		"pendingEvictions": h.pendingEvictions(),
		"breakers":         h.executor.BreakerStates(),
		"uptimeSeconds":    int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handlers) connections() int {
	if h.hub == nil {
		return 0
	}
	return h.hub.Connections()
}

func (h *Handlers) pendingEvictions() int {
	if h.lifecycle == nil {
		return 0
	}
	return h.lifecycle.PendingCount()
}
