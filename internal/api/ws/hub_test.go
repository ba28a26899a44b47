package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesphere/backend/internal/domain/lifecycle"
	"github.com/codesphere/backend/internal/domain/room"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      int64           `json:"ts"`
}

type testEnv struct {
	hub   *Hub
	store *room.Store
	lc    *lifecycle.Manager
	url   string
}

func newTestEnv(t *testing.T, grace time.Duration, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := room.NewStore(room.Options{})
	lc := lifecycle.NewManager(store, grace)
	hub := NewHub(store, lc, opts, nil, nil)

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
		lc.Stop()
	})

	return &testEnv{
		hub:   hub,
		store: store,
		lc:    lc,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": kind, "payload": json.RawMessage(raw)}))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// expect reads frames until one of the given kind arrives.
func expect(t *testing.T, conn *websocket.Conn, kind string, into interface{}) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := next(t, conn)
		if f.Type == kind {
			if into != nil {
				require.NoError(t, json.Unmarshal(f.Payload, into))
			}
			return f
		}
	}
	t.Fatalf("no %s frame received", kind)
	return frame{}
}

// barrier pings and requires that no frame other than kinds in allow arrives
// before the pong.
func barrier(t *testing.T, conn *websocket.Conn, forbidden string) {
	t.Helper()
	send(t, conn, TypePing, struct{}{})
	for i := 0; i < 20; i++ {
		f := next(t, conn)
		require.NotEqual(t, forbidden, f.Type, "sender must not receive its own %s", forbidden)
		if f.Type == TypePong {
			return
		}
	}
	t.Fatal("no pong received")
}

func join(t *testing.T, conn *websocket.Conn, roomID, userID, name string) RoomStateMessage {
	t.Helper()
	send(t, conn, TypeJoinRoom, JoinPayload{RoomID: roomID, User: UserInfo{ID: userID, Name: name, Color: "#f00"}})
	var state RoomStateMessage
	expect(t, conn, TypeRoomState, &state)
	expect(t, conn, TypeRosterUpdate, nil)
	return state
}

func TestJoinSendsRoomState(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a := env.dial(t)

	state := join(t, a, " abc123 ", "u-a", "Alice")

	assert.Equal(t, "ABC123", state.RoomID)
	assert.Equal(t, room.Java, state.Language)
	assert.Equal(t, room.Template(room.Java), state.Code)
	require.Len(t, state.Users, 1)
	assert.Equal(t, "Alice", state.Users[0].Name)
	require.NotNil(t, state.Owner)
	assert.Equal(t, "u-a", state.Owner.ID)
	assert.Empty(t, state.Whiteboard)
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a := env.dial(t)
	b := env.dial(t)

	join(t, a, "R1", "u-a", "Alice")
	state := join(t, b, "R1", "u-b", "Bob")
	require.Len(t, state.Users, 2)
	assert.Equal(t, "u-a", state.Owner.ID)

	var joined UserView
	expect(t, a, TypeUserJoined, &joined)
	assert.Equal(t, "Bob", joined.Name)

	var roster RosterMessage
	expect(t, a, TypeRosterUpdate, &roster)
	assert.Len(t, roster.Users, 2)
}

func TestCodeChangeExcludesSender(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b, c := env.dial(t), env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")
	join(t, c, "R1", "u-c", "Carol")

	send(t, a, TypeCodeChange, map[string]string{"roomId": "R1", "code": "print(42)"})

	for _, conn := range []*websocket.Conn{b, c} {
		var update CodeUpdateMessage
		expect(t, conn, TypeCodeUpdate, &update)
		assert.Equal(t, "print(42)", update.Code)
		assert.Equal(t, "u-a", update.UserID)
	}
	barrier(t, a, TypeCodeUpdate)

	snap, ok := env.store.Snapshot("R1")
	require.True(t, ok)
	assert.Equal(t, "print(42)", snap.Document)
}

func TestEmptyDocumentIsAccepted(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")

	send(t, a, TypeCodeChange, map[string]string{"roomId": "R1", "code": ""})

	var update CodeUpdateMessage
	expect(t, b, TypeCodeUpdate, &update)
	assert.Empty(t, update.Code)
}

func TestChatReachesEveryoneIncludingSender(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")

	send(t, a, TypeChatMessage, ChatPayload{RoomID: "R1", Message: "  <b>hello</b> & bye "})

	var fromA, fromB ChatMessage
	expect(t, a, TypeNewMessage, &fromA)
	expect(t, b, TypeNewMessage, &fromB)

	assert.Equal(t, "hello & bye", fromA.Message)
	assert.Equal(t, fromA.ID, fromB.ID)
	assert.True(t, strings.HasPrefix(fromA.ID, "msg_"))
	assert.Equal(t, "Alice", fromA.User.Name)
	assert.False(t, fromA.Timestamp.IsZero())
}

func TestCursorCarriesIdentity(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")

	send(t, a, TypeCursorPosition, CursorPayload{RoomID: "R1", Position: Position{Line: 3, Column: 7}})

	var cur CursorUpdateMessage
	expect(t, b, TypeCursorUpdate, &cur)
	assert.Equal(t, "u-a", cur.UserID)
	assert.True(t, strings.HasPrefix(cur.ConnectionID, "conn_"))
	assert.Equal(t, Position{Line: 3, Column: 7}, cur.Position)
	barrier(t, a, TypeCursorUpdate)
}

func TestLanguageChange(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")

	send(t, a, TypeLanguageChange, LanguageChangePayload{RoomID: "R1", Language: "Python"})

	var upd LanguageUpdateMessage
	expect(t, b, TypeLanguageUpdate, &upd)
	assert.Equal(t, room.Python, upd.Language)

	send(t, a, TypeLanguageChange, LanguageChangePayload{RoomID: "R1", Language: "cobol"})
	var errMsg ErrorMessage
	expect(t, a, TypeError, &errMsg)
	assert.Equal(t, TypeLanguageChange, errMsg.Type)

	snap, _ := env.store.Snapshot("R1")
	assert.Equal(t, room.Python, snap.Language)
}

func TestWhiteboardReplayOnJoin(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")

	op := json.RawMessage(`{"tool":"pen","points":[[1,2],[3,4]]}`)
	send(t, a, TypeDrawOp, DrawOpPayload{RoomID: "R1", Op: op})
	barrier(t, a, TypeDrawUpdate)

	state := join(t, b, "R1", "u-b", "Bob")
	require.Len(t, state.Whiteboard, 1)
	assert.JSONEq(t, string(op), string(state.Whiteboard[0]))

	send(t, b, TypeDrawClear, RoomPayload{RoomID: "R1"})
	expect(t, a, TypeDrawClear, nil)
	barrier(t, b, TypeDrawClear)

	snap, _ := env.store.Snapshot("R1")
	assert.Empty(t, snap.Whiteboard)
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")
	expect(t, a, TypeUserJoined, nil)
	expect(t, a, TypeRosterUpdate, nil)

	require.NoError(t, b.Close())

	var left UserView
	expect(t, a, TypeUserLeft, &left)
	assert.Equal(t, "u-b", left.ID)

	var roster RosterMessage
	expect(t, a, TypeRosterUpdate, &roster)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "u-a", roster.Users[0].ID)
	assert.False(t, env.lc.Pending("R1"))
}

func TestExplicitLeave(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R1", "u-b", "Bob")

	send(t, b, TypeLeaveRoom, RoomPayload{RoomID: "r1"})

	var left UserView
	expect(t, a, TypeUserLeft, &left)
	assert.Equal(t, "u-b", left.ID)

	send(t, b, TypeLeaveRoom, RoomPayload{RoomID: "R1"})
	expect(t, b, TypeError, nil)
}

func TestEmptyRoomEvictedAfterGrace(t *testing.T) {
	env := newTestEnv(t, 50*time.Millisecond, Options{})
	a := env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	send(t, a, TypeCodeChange, map[string]string{"roomId": "R1", "code": "x = 1"})
	barrier(t, a, TypeCodeUpdate)

	require.NoError(t, a.Close())

	assert.Eventually(t, func() bool {
		_, ok := env.store.Snapshot("R1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	b := env.dial(t)
	state := join(t, b, "R1", "u-b", "Bob")
	assert.Equal(t, room.Template(room.Java), state.Code)
}

func TestRejoinDuringGraceKeepsDocument(t *testing.T) {
	env := newTestEnv(t, 300*time.Millisecond, Options{})
	a := env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	send(t, a, TypeCodeChange, map[string]string{"roomId": "R1", "code": "kept"})
	barrier(t, a, TypeCodeUpdate)
	require.NoError(t, a.Close())

	assert.Eventually(t, func() bool { return env.lc.Pending("R1") }, time.Second, 5*time.Millisecond)

	b := env.dial(t)
	state := join(t, b, "R1", "u-b", "Bob")
	assert.Equal(t, "kept", state.Code)
	assert.False(t, env.lc.Pending("R1"))

	time.Sleep(400 * time.Millisecond)
	_, ok := env.store.Snapshot("R1")
	assert.True(t, ok)
}

func TestProtocolViolationsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a := env.dial(t)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	expect(t, a, TypeError, nil)

	send(t, a, TypeJoinRoom, map[string]string{"user": "nobody"})
	var errMsg ErrorMessage
	expect(t, a, TypeError, &errMsg)
	assert.Equal(t, TypeJoinRoom, errMsg.Type)

	send(t, a, "teleport", struct{}{})
	expect(t, a, TypeError, nil)

	// Events for rooms the connection never joined are rejected.
	send(t, a, TypeCodeChange, map[string]string{"roomId": "R9", "code": "hijack"})
	expect(t, a, TypeError, nil)
	_, exists := env.store.Snapshot("R9")
	assert.False(t, exists)

	send(t, a, TypePing, struct{}{})
	expect(t, a, TypePong, nil)
}

func TestOriginCheck(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{AllowedOrigins: []string{"http://allowed.test"}})

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://allowed.test")
	conn, _, err := websocket.DefaultDialer.Dial(env.url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestRoomsAreIsolated(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	a, b := env.dial(t), env.dial(t)
	join(t, a, "R1", "u-a", "Alice")
	join(t, b, "R2", "u-b", "Bob")

	send(t, a, TypeCodeChange, map[string]string{"roomId": "R1", "code": "only r1"})
	barrier(t, b, TypeCodeUpdate)

	snap, _ := env.store.Snapshot("R2")
	assert.Equal(t, room.Template(room.Java), snap.Document)
}
