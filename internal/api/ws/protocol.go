package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/codesphere/backend/internal/domain/room"
)

// Inbound event kinds.
const (
	TypeJoinRoom       = "join-room"
	TypeCodeChange     = "code-change"
	TypeLanguageChange = "language-change"
	TypeCursorPosition = "cursor-position"
	TypeChatMessage    = "chat-message"
	TypeDrawOp         = "draw-op"
	TypeDrawClear      = "draw-clear"
	TypeLeaveRoom      = "leave-room"
	TypePing           = "ping"
)

// Outbound event kinds.
const (
	TypeRoomState      = "room-state"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeRosterUpdate   = "roster-update"
	TypeCodeUpdate     = "code-update"
	TypeLanguageUpdate = "language-update"
	TypeCursorUpdate   = "cursor-update"
	TypeNewMessage     = "new-message"
	TypeDrawUpdate     = "draw-update"
	TypePong           = "pong"
	TypeError          = "error"
)

// MaxChatRunes bounds a single chat message after sanitising.
const MaxChatRunes = 4000

// Inbound is the envelope of every client frame.
type Inbound struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is the envelope of every server frame.
type Outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	TS      int64       `json:"ts"`
}

// UserInfo is the client-supplied identity on join.
type UserInfo struct {
	ID    string `json:"id" validate:"max=128"`
	Name  string `json:"name" validate:"max=128"`
	Color string `json:"color" validate:"max=32"`
}

type JoinPayload struct {
	RoomID string   `json:"roomId" validate:"required,max=64"`
	User   UserInfo `json:"user"`
}

type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
}

type CodeChangePayload struct {
	RoomID string  `json:"roomId" validate:"required,max=64"`
	Code   *string `json:"code" validate:"required"`
}

type LanguageChangePayload struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	Language string `json:"language" validate:"required"`
}

type Position struct {
	Line   int `json:"line" validate:"min=0"`
	Column int `json:"column" validate:"min=0"`
}

type CursorPayload struct {
	RoomID   string   `json:"roomId" validate:"required,max=64"`
	Position Position `json:"position"`
}

type ChatPayload struct {
	RoomID  string `json:"roomId" validate:"required,max=64"`
	Message string `json:"message" validate:"required"`
}

type DrawOpPayload struct {
	RoomID string          `json:"roomId" validate:"required,max=64"`
	Op     json.RawMessage `json:"op" validate:"required"`
}

// UserView is a member as presented to clients.
type UserView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type RoomStateMessage struct {
	RoomID     string            `json:"roomId"`
	Code       string            `json:"code"`
	Language   room.Language     `json:"language"`
	Users      []UserView        `json:"users"`
	Owner      *UserView         `json:"owner,omitempty"`
	Whiteboard []json.RawMessage `json:"whiteboard"`
}

type RosterMessage struct {
	RoomID string     `json:"roomId"`
	Users  []UserView `json:"users"`
}

type CodeUpdateMessage struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type LanguageUpdateMessage struct {
	Language room.Language `json:"language"`
	UserID   string        `json:"userId"`
}

type CursorUpdateMessage struct {
	UserID       string   `json:"userId"`
	ConnectionID string   `json:"connectionId"`
	Position     Position `json:"position"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	User      UserView  `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

type DrawUpdateMessage struct {
	Op     json.RawMessage `json:"op,omitempty"`
	UserID string          `json:"userId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// codec decodes and validates frames.
type codec struct {
	validate *validator.Validate
}

func newCodec() *codec {
	return &codec{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (c *codec) envelope(data []byte) (Inbound, error) {
	var in Inbound
	if err := sonic.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("malformed frame: %w", err)
	}
	if err := c.validate.Struct(in); err != nil {
		return in, fmt.Errorf("invalid frame: %w", err)
	}
	return in, nil
}

func (c *codec) payload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// encode renders an outbound frame once so it can be shared by every recipient.
func encode(kind string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return sonic.Marshal(Outbound{Type: kind, Payload: payload, TS: time.Now().UnixMilli()})
}

func userView(m room.Member) UserView {
	return UserView{
		ID:           m.UserID,
		Name:         m.DisplayName,
		Color:        m.ColorTag,
		ConnectionID: m.ConnectionID,
		JoinedAt:     m.JoinedAt,
	}
}

func roster(snap room.Snapshot) []UserView {
	return lo.Map(snap.Members, func(m room.Member, _ int) UserView { return userView(m) })
}

func roomState(snap room.Snapshot) RoomStateMessage {
	msg := RoomStateMessage{
		RoomID:     snap.ID,
		Code:       snap.Document,
		Language:   snap.Language,
		Users:      roster(snap),
		Whiteboard: make([]json.RawMessage, len(snap.Whiteboard)),
	}
	copy(msg.Whiteboard, snap.Whiteboard)
	if owner, ok := snap.Owner(); ok {
		v := userView(owner)
		msg.Owner = &v
	}
	return msg
}
