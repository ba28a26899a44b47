package ws

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/domain/room"
	"github.com/codesphere/backend/internal/shared/id"
)

const (
	defaultDisplayName = "Anonymous"
	maxNameRunes       = 64
)

// dispatch handles one inbound frame. It reports false when the connection
// must be closed.
func (h *Hub) dispatch(c *Client, data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Panic while dispatching frame", zap.Any("panic", r), zap.Stack("stack"))
			ok = false
		}
	}()

	in, err := h.codec.envelope(data)
	if err != nil {
		h.violation(c, "", err)
		return true
	}
	h.metrics.RecordWSMessage("in", in.Type)

	switch in.Type {
	case TypeJoinRoom:
		var p JoinPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.join(c, p)

	case TypeLeaveRoom:
		var p RoomPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.leave(c, room.NormalizeID(p.RoomID))

	case TypeCodeChange:
		var p CodeChangePayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.codeChange(c, p)

	case TypeLanguageChange:
		var p LanguageChangePayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.languageChange(c, p)

	case TypeCursorPosition:
		var p CursorPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.cursor(c, p)

	case TypeChatMessage:
		var p ChatPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.chat(c, p)

	case TypeDrawOp:
		var p DrawOpPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.drawOp(c, p)

	case TypeDrawClear:
		var p RoomPayload
		if err := h.codec.payload(in.Payload, &p); err != nil {
			h.violation(c, in.Type, err)
			return true
		}
		h.drawClear(c, room.NormalizeID(p.RoomID))

	case TypePing:
		h.reply(c, TypePong, nil)

	default:
		h.violation(c, in.Type, fmt.Errorf("unknown event type %q", in.Type))
	}
	return true
}

func (h *Hub) join(c *Client, p JoinPayload) {
	roomID := room.NormalizeID(p.RoomID)
	if roomID == "" {
		h.violation(c, TypeJoinRoom, fmt.Errorf("empty room id"))
		return
	}

	m := room.Member{
		ConnectionID: c.id,
		UserID:       h.clean(p.User.ID, maxNameRunes),
		DisplayName:  h.clean(p.User.Name, maxNameRunes),
		ColorTag:     h.clean(p.User.Color, 32),
		JoinedAt:     time.Now().UTC(),
	}
	if m.UserID == "" {
		m.UserID = c.id
	}
	if m.DisplayName == "" {
		m.DisplayName = defaultDisplayName
	}

	_, created := h.store.AddMember(roomID, m, func(snap room.Snapshot) {
		if h.lifecycle != nil {
			h.lifecycle.Cancel(snap.ID)
		}
		joined, _ := snap.Member(c.id)
		h.reply(c, TypeRoomState, roomState(snap))
		h.broadcast(snap, c.id, TypeUserJoined, userView(joined))
		h.broadcast(snap, "", TypeRosterUpdate, RosterMessage{RoomID: snap.ID, Users: roster(snap)})
	})

	c.log.Info("Joined room",
		zap.String("room_id", roomID),
		zap.String("user_id", m.UserID),
		zap.Bool("created", created))
}

func (h *Hub) leave(c *Client, roomID string) {
	_, removed, _ := h.store.RemoveMember(roomID, c.id, func(d room.Departure, snap room.Snapshot) {
		h.announceDeparture(snap, d.Member)
	})
	if !removed {
		h.violation(c, TypeLeaveRoom, fmt.Errorf("not a member of room %q", roomID))
		return
	}
	c.log.Info("Left room", zap.String("room_id", roomID))
}

func (h *Hub) codeChange(c *Client, p CodeChangePayload) {
	roomID := room.NormalizeID(p.RoomID)
	if !h.requireMember(c, TypeCodeChange, roomID) {
		return
	}
	h.store.SetDocument(roomID, *p.Code, func(snap room.Snapshot) {
		h.broadcast(snap, c.id, TypeCodeUpdate, CodeUpdateMessage{Code: snap.Document, UserID: userIDOf(snap, c.id)})
	})
}

func (h *Hub) languageChange(c *Client, p LanguageChangePayload) {
	roomID := room.NormalizeID(p.RoomID)
	lang, ok := room.ParseLanguage(p.Language)
	if !ok {
		h.violation(c, TypeLanguageChange, fmt.Errorf("unsupported language %q", p.Language))
		return
	}
	if !h.requireMember(c, TypeLanguageChange, roomID) {
		return
	}
	h.store.SetLanguage(roomID, lang, func(snap room.Snapshot) {
		h.broadcast(snap, c.id, TypeLanguageUpdate, LanguageUpdateMessage{Language: snap.Language, UserID: userIDOf(snap, c.id)})
	})
}

func (h *Hub) cursor(c *Client, p CursorPayload) {
	roomID := room.NormalizeID(p.RoomID)
	h.sequenceAsMember(c, TypeCursorPosition, roomID, func(snap room.Snapshot, m room.Member) {
		h.broadcast(snap, c.id, TypeCursorUpdate, CursorUpdateMessage{
			UserID:       m.UserID,
			ConnectionID: c.id,
			Position:     p.Position,
		})
	})
}

func (h *Hub) chat(c *Client, p ChatPayload) {
	roomID := room.NormalizeID(p.RoomID)
	text := h.clean(p.Message, MaxChatRunes)
	if text == "" {
		h.violation(c, TypeChatMessage, fmt.Errorf("empty chat message"))
		return
	}
	h.sequenceAsMember(c, TypeChatMessage, roomID, func(snap room.Snapshot, m room.Member) {
		h.broadcast(snap, "", TypeNewMessage, ChatMessage{
			ID:        id.NewMessageID().String(),
			Message:   text,
			User:      userView(m),
			Timestamp: time.Now().UTC(),
		})
	})
}

func (h *Hub) drawOp(c *Client, p DrawOpPayload) {
	roomID := room.NormalizeID(p.RoomID)
	if !h.requireMember(c, TypeDrawOp, roomID) {
		return
	}
	h.store.AppendDrawOp(roomID, room.DrawOp(p.Op), func(snap room.Snapshot) {
		h.broadcast(snap, c.id, TypeDrawUpdate, DrawUpdateMessage{Op: p.Op, UserID: userIDOf(snap, c.id)})
	})
}

func (h *Hub) drawClear(c *Client, roomID string) {
	if !h.requireMember(c, TypeDrawClear, roomID) {
		return
	}
	h.store.ClearWhiteboard(roomID, func(snap room.Snapshot) {
		h.broadcast(snap, c.id, TypeDrawClear, DrawUpdateMessage{UserID: userIDOf(snap, c.id)})
	})
}

// sequenceAsMember runs fn in room order if c is a member of the room.
func (h *Hub) sequenceAsMember(c *Client, kind, roomID string, fn func(room.Snapshot, room.Member)) {
	member := false
	h.store.Sequence(roomID, func(snap room.Snapshot) {
		m, ok := snap.Member(c.id)
		if !ok {
			return
		}
		member = true
		fn(snap, m)
	})
	if !member {
		h.violation(c, kind, fmt.Errorf("not a member of room %q", roomID))
	}
}

func (h *Hub) requireMember(c *Client, kind, roomID string) bool {
	if h.store.IsMember(roomID, c.id) {
		return true
	}
	h.violation(c, kind, fmt.Errorf("not a member of room %q", roomID))
	return false
}

// violation drops a bad frame and tells only its sender.
func (h *Hub) violation(c *Client, kind string, err error) {
	h.metrics.RecordWSDrop("invalid")
	c.log.Debug("Dropping invalid frame", zap.String("type", kind), zap.Error(err))
	h.reply(c, TypeError, ErrorMessage{Message: err.Error(), Type: kind})
}

// clean strips markup, trims and bounds user-supplied text.
func (h *Hub) clean(s string, maxRunes int) string {
	s = strings.TrimSpace(html.UnescapeString(h.sanitizer.Sanitize(s)))
	if utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return s
}

func userIDOf(snap room.Snapshot, connID string) string {
	if m, ok := snap.Member(connID); ok {
		return m.UserID
	}
	return ""
}
