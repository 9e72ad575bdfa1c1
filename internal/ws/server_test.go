package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagechatgo/internal/ratelimit"
	"pagechatgo/internal/rooms"
	"pagechatgo/internal/services/presence"
	"pagechatgo/internal/usernames"
)

func newTestServer(t *testing.T, actionLimit int) (*WsServer, presence.IPresenceService, *ratelimit.Manager) {
	t.Helper()

	registry := rooms.NewRegistry()
	allocator := usernames.NewAllocator()
	svc := presence.NewPresenceService(registry, allocator, presence.Options{})
	limiter := ratelimit.NewManager(ratelimit.Config{
		ConnectionLimit: 50,
		ActionLimit:     actionLimit,
		Window:          60 * time.Second,
	})
	t.Cleanup(limiter.Stop)

	return NewWsServer(NewHub(), svc, limiter, []string{"*"}), svc, limiter
}

func TestRateLimitedMessageHasNoSideEffects(t *testing.T) {
	s, svc, _ := newTestServer(t, 10)

	_, err := svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	cc := &ConnContext{Conn: &clientConn{id: "conn-a"}}
	for i := 0; i < 10; i++ {
		require.NoError(t, s.handleSendMessage(cc, SendMessageRequest{Text: "hi", RoomID: "room_42"}))
	}

	err = s.handleSendMessage(cc, SendMessageRequest{Text: "hi", RoomID: "room_42"})
	assert.ErrorIs(t, err, errTooManyMessages)

	// The rejected action must not have touched the room.
	stats := svc.GetStats()
	assert.Equal(t, int64(10), stats.Rooms.TotalMessages)
}

func TestWaveSharesActionBucket(t *testing.T) {
	s, svc, _ := newTestServer(t, 1)

	_, err := svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	cc := &ConnContext{Conn: &clientConn{id: "conn-a"}}
	require.NoError(t, s.handleSendMessage(cc, SendMessageRequest{Text: "hi", RoomID: "room_42"}))
	assert.ErrorIs(t, s.handleSendWave(cc, SendWaveRequest{RoomID: "room_42"}), errTooManyActions)
}

func TestUserMessageMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: presence.ErrInvalidRoomID, want: "Invalid room ID"},
		{err: presence.ErrEmptyMessage, want: "Invalid message"},
		{err: presence.ErrMessageTooLong, want: "Message too long"},
		{err: presence.ErrNotInRoom, want: "Not in room"},
		{err: errTooManyMessages, want: "Too many messages. Please slow down."},
		{err: errTooManyActions, want: "Too many actions. Please slow down."},
		{err: errUnknownEvent, want: "Unknown event"},
		{err: errInvalidPayload, want: "Invalid payload"},
		{err: errors.New("boom"), want: "Server error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, userMessage(tt.err))
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://example.com"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "missing origin (extensions) must be allowed")

	req.Header.Set("Origin", "null")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.net")
	assert.False(t, check(req))

	anyOrigin := originChecker([]string{"*"})
	req.Header.Set("Origin", "https://evil.example.net")
	assert.True(t, anyOrigin(req))
}

// ---------------------------------------------------------------------------
//  Over-the-wire tests
// ---------------------------------------------------------------------------

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTestServer(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, body any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(outEnvelope{Event: event, Body: body}))
}

func (c *wsClient) recv() (string, json.RawMessage) {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(c.t, c.conn.ReadJSON(&env))
	return env.Event, env.Body
}

func (c *wsClient) recvAs(event string, out any) {
	c.t.Helper()

	got, body := c.recv()
	require.Equal(c.t, event, got)
	require.NoError(c.t, json.Unmarshal(body, out))
}

func startWire(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, _, _ := newTestServer(t, 10)
	engine := gin.New()
	engine.GET("/ws", s.Handle)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func TestJoinAndChatOverWire(t *testing.T) {
	srv := startWire(t)

	alice := dialTestServer(t, srv)
	alice.send("join-room", JoinRoomRequest{RoomID: "room_42"})

	var joined RoomJoinedBody
	alice.recvAs("room-joined", &joined)
	assert.Equal(t, "room_42", joined.RoomID)
	assert.NotEmpty(t, joined.Username)
	assert.Equal(t, 1, joined.UserCount)

	var count UserCountBody
	alice.recvAs("user-count", &count)
	assert.Equal(t, 1, count.Count)

	// Second client requests the name alice already holds.
	bob := dialTestServer(t, srv)
	bob.send("join-room", JoinRoomRequest{RoomID: "room_42", Username: joined.Username})

	var bobJoined RoomJoinedBody
	bob.recvAs("room-joined", &bobJoined)
	assert.NotEqual(t, joined.Username, bobJoined.Username)
	assert.Equal(t, 2, bobJoined.UserCount)

	var userJoined UserJoinedBody
	alice.recvAs("user-joined", &userJoined)
	assert.Equal(t, bobJoined.Username, userJoined.Username)
	alice.recvAs("user-count", &count)
	assert.Equal(t, 2, count.Count)
	bob.recvAs("user-count", &count)
	assert.Equal(t, 2, count.Count)

	// Chat reaches everyone, sender included, with a server timestamp.
	alice.send("send-message", SendMessageRequest{Text: " hello ", RoomID: "room_42"})

	var msg MessageBody
	alice.recvAs("message", &msg)
	assert.Equal(t, joined.Username, msg.Username)
	assert.Equal(t, "hello", msg.Text)
	assert.NotZero(t, msg.Timestamp)

	bob.recvAs("message", &msg)
	assert.Equal(t, "hello", msg.Text)
}

func TestWaveOverWire(t *testing.T) {
	srv := startWire(t)

	alice := dialTestServer(t, srv)
	alice.send("join-room", JoinRoomRequest{RoomID: "room_9"})

	var joined RoomJoinedBody
	alice.recvAs("room-joined", &joined)
	var count UserCountBody
	alice.recvAs("user-count", &count)

	alice.send("send-wave", SendWaveRequest{RoomID: "room_9"})

	var wave WaveBody
	alice.recvAs("wave", &wave)
	assert.Equal(t, joined.Username, wave.Username)
	assert.Equal(t, "room_9", wave.RoomID)
}

func TestErrorsOverWire(t *testing.T) {
	srv := startWire(t)

	c := dialTestServer(t, srv)

	c.send("join-room", JoinRoomRequest{RoomID: "not a room!"})
	var errBody ErrorBody
	c.recvAs("error", &errBody)
	assert.Equal(t, "Invalid room ID", errBody.Message)

	c.send("send-message", SendMessageRequest{Text: "hi", RoomID: "room_42"})
	c.recvAs("error", &errBody)
	assert.Equal(t, "Not in room", errBody.Message)

	c.send("no-such-event", nil)
	c.recvAs("error", &errBody)
	assert.Equal(t, "Unknown event", errBody.Message)
}

func TestPingPongOverWire(t *testing.T) {
	srv := startWire(t)

	c := dialTestServer(t, srv)
	c.send("ping", map[string]any{"echo": "x1"})

	var pong map[string]any
	c.recvAs("pong", &pong)
	assert.Equal(t, "x1", pong["echo"])
	assert.NotNil(t, pong["timestamp"])
}

func TestLeaveRoomNotifiesOthersOverWire(t *testing.T) {
	srv := startWire(t)

	alice := dialTestServer(t, srv)
	alice.send("join-room", JoinRoomRequest{RoomID: "room_5"})
	var joined RoomJoinedBody
	alice.recvAs("room-joined", &joined)
	var count UserCountBody
	alice.recvAs("user-count", &count)

	bob := dialTestServer(t, srv)
	bob.send("join-room", JoinRoomRequest{RoomID: "room_5"})
	var bobJoined RoomJoinedBody
	bob.recvAs("room-joined", &bobJoined)

	var userJoined UserJoinedBody
	alice.recvAs("user-joined", &userJoined)
	alice.recvAs("user-count", &count)
	bob.recvAs("user-count", &count)

	bob.send("leave-room", LeaveRoomRequest{})

	var left UserLeftBody
	alice.recvAs("user-left", &left)
	assert.Equal(t, bobJoined.Username, left.Username)
	assert.Equal(t, 1, left.UserCount)
	alice.recvAs("user-count", &count)
	assert.Equal(t, 1, count.Count)
}
