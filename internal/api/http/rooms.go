package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/codesphere/backend/internal/domain/lifecycle"
	"github.com/codesphere/backend/internal/domain/room"
)

// RoomStatus is the response of GET /rooms/:id.
type RoomStatus struct {
	RoomID         string          `json:"roomId"`
	Exists         bool            `json:"exists"`
	UserCount      int             `json:"userCount"`
	Users          []string        `json:"users"`
	Language       room.Language   `json:"language,omitempty"`
	Phase          lifecycle.Phase `json:"phase"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
	LastActivityAt *time.Time      `json:"lastActivityAt,omitempty"`
	WillBeCreated  bool            `json:"willBeCreated,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// RoomStatus reports whether a room exists without creating it.
func (h *Handlers) RoomStatus(c *gin.Context) {
	roomID := room.NormalizeID(c.Param("id"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id is required"})
		return
	}

	snap, ok := h.rooms.Snapshot(roomID)
	if !ok {
		c.JSON(http.StatusOK, RoomStatus{
			RoomID:        roomID,
			Users:         []string{},
			Phase:         lifecycle.PhaseAbsent,
			WillBeCreated: true,
			Message:       "Room will be created when you join",
		})
		return
	}

	c.JSON(http.StatusOK, RoomStatus{
		RoomID:         snap.ID,
		Exists:         true,
		UserCount:      len(snap.Members),
		Users:          lo.Map(snap.Members, func(m room.Member, _ int) string { return m.DisplayName }),
		Language:       snap.Language,
		Phase:          h.phase(snap.ID, true, len(snap.Members)),
		CreatedAt:      &snap.CreatedAt,
		LastActivityAt: &snap.LastActivityAt,
	})
}

// ListRooms lists every live room
func (h *Handlers) ListRooms(c *gin.Context) {
	rooms := h.rooms.List()
	c.JSON(http.StatusOK, gin.H{
		"count":            len(rooms),
		"rooms":            rooms,
		"pendingEvictions": h.pendingEvictions(),
	})
}

func (h *Handlers) phase(roomID string, exists bool, members int) lifecycle.Phase {
	if h.lifecycle == nil {
		switch {
		case !exists:
			return lifecycle.PhaseAbsent
		case members > 0:
			return lifecycle.PhaseActive
		default:
			return lifecycle.PhaseDraining
		}
	}
	return h.lifecycle.Phase(roomID, exists, members)
}
