package lifecycle

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/infrastructure/logging"
)

// DefaultGracePeriod is how long an empty room survives before eviction.
const DefaultGracePeriod = 5 * time.Minute

// Sweeper removes a room if it is still empty when the grace period ends
type Sweeper interface {
	SweepEmpty(roomID string) bool
}

// Phase is the lifecycle position of a room.
type Phase string

const (
	PhaseActive   Phase = "active"
	PhaseDraining Phase = "draining"
	PhaseAbsent   Phase = "absent"
)

// Manager owns the eviction timers for empty rooms. At most one timer is
// outstanding per room.
type Manager struct {
	sweeper Sweeper
	grace   time.Duration
	log     *logging.Logger

	mu     sync.Mutex
	timers map[string]*pending
	closed bool

	onEvict func(roomID string)
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for scheduling decisions.
func WithLogger(log *logging.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithEvictHook registers a callback run after a room is evicted.
func WithEvictHook(fn func(roomID string)) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// NewManager creates a manager. A negative grace falls back to the default.
func NewManager(sweeper Sweeper, grace time.Duration, opts ...Option) *Manager {
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	m := &Manager{
		sweeper: sweeper,
		grace:   grace,
		log:     logging.NewNop(),
		timers:  make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Grace returns the configured grace period.
func (m *Manager) Grace() time.Duration { return m.grace }

// Schedule starts the grace timer for an empty room. It returns false if a
// timer is already pending, in which case the existing deadline stands.
func (m *Manager) Schedule(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if _, ok := m.timers[roomID]; ok {
		return false
	}

	p := &pending{}
	p.timer = time.AfterFunc(m.grace, func() { m.fire(roomID, p) })
	m.timers[roomID] = p

	m.log.Debug("Room eviction scheduled",
		zap.String("room_id", roomID),
		zap.Duration("grace", m.grace))
	return true
}

// Cancel stops a pending eviction. It reports whether one was pending.
func (m *Manager) Cancel(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.timers[roomID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.timers, roomID)

	m.log.Debug("Room eviction cancelled", zap.String("room_id", roomID))
	return true
}

// Pending reports whether an eviction timer is outstanding for the room.
func (m *Manager) Pending(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[roomID]
	return ok
}

// PendingCount returns the number of rooms awaiting eviction.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Phase derives a room's lifecycle phase from its existence and size.
func (m *Manager) Phase(roomID string, exists bool, members int) Phase {
	switch {
	case !exists:
		return PhaseAbsent
	case members > 0:
		return PhaseActive
	default:
		return PhaseDraining
	}
}

// Stop cancels every pending timer. Rooms stay in place.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.timers {
		p.timer.Stop()
		delete(m.timers, id)
	}
	m.closed = true
}

type pending struct {
	timer *time.Timer
}

func (m *Manager) fire(roomID string, p *pending) {
	m.mu.Lock()
	if m.timers[roomID] != p {
		// Cancelled or superseded after the timer had already fired.
		m.mu.Unlock()
		return
	}
	delete(m.timers, roomID)
	m.mu.Unlock()

	if !m.sweeper.SweepEmpty(roomID) {
		m.log.Debug("Room repopulated before eviction", zap.String("room_id", roomID))
		return
	}

	m.log.Info("Room evicted after grace period",
		zap.String("room_id", roomID),
		zap.Duration("grace", m.grace))
	if m.onEvict != nil {
		m.onEvict(roomID)
	}
}
