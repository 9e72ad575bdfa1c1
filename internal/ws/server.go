package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pagechatgo/internal/ratelimit"
	"pagechatgo/internal/services/presence"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second // must be < pongWait
	maxFrameSize = 4096
)

var (
	errTooManyMessages = errors.New("too many messages")
	errTooManyActions  = errors.New("too many actions")
)

type WsServer struct {
	hub      *Hub
	router   *Router
	svc      presence.IPresenceService
	limiter  *ratelimit.Manager
	upgrader websocket.Upgrader
}

func NewWsServer(h *Hub, svc presence.IPresenceService, limiter *ratelimit.Manager, allowedOrigins []string) *WsServer {
	srv := &WsServer{
		hub:     h,
		router:  NewRouter(),
		svc:     svc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	srv.registerHandlers() // ← all WS events configured here
	return srv
}

// originChecker mirrors the widget deployment model: browser extensions send
// no origin (or "null"), localhost is always fine for development, everything
// else must be configured.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" {
			return true
		}
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	// Connection bucket first: a throttled address never reaches room logic.
	if !s.limiter.AllowConnection(ginCtx.ClientIP()) {
		zap.L().Warn("ws.connection_rate_limited", zap.String("ip", ginCtx.ClientIP()))
		ginCtx.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}

	conn := &clientConn{
		id:      uuid.NewString(),
		ip:      ginCtx.ClientIP(),
		rawConn: rawConn,
	}
	zap.L().Info("ws.connected", zap.String("conn_id", conn.id), zap.String("ip", conn.ip))

	go s.reader(conn)
	go s.pinger(conn)
}

// ---------------------------------------------------------------------------
//  Event handlers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	Register(s.router, "join-room", s.handleJoinRoom)
	Register(s.router, "send-message", s.handleSendMessage)
	Register(s.router, "send-wave", s.handleSendWave)
	Register(s.router, "leave-room", s.handleLeaveRoom)
	Register(s.router, "ping", s.handlePing)
}

func (s *WsServer) handleJoinRoom(cc *ConnContext, req JoinRoomRequest) error {
	res, err := s.svc.Join(req.RoomID, cc.Conn.id, req.Username)
	if err != nil {
		return err
	}

	// Moving rooms: detach from the old one and tell it goodbye first.
	if res.Previous != nil {
		s.hub.Leave(res.Previous.RoomID, cc.Conn)
		s.hub.Broadcast(res.Previous.RoomID, "user-left", UserLeftBody{
			Username:  res.Previous.Username,
			UserCount: res.Previous.UserCount,
		})
		s.hub.Broadcast(res.Previous.RoomID, "user-count", UserCountBody{Count: res.Previous.UserCount})
	}

	s.hub.Join(res.RoomID, cc.Conn)

	users := make([]RoomUser, 0, len(res.Users))
	for _, u := range res.Users {
		users = append(users, RoomUser{Username: u.Username})
	}

	cc.emit("room-joined", RoomJoinedBody{
		RoomID:    res.RoomID,
		Username:  res.Username,
		UserCount: res.UserCount,
		Users:     users,
	})
	s.hub.BroadcastExcept(res.RoomID, "user-joined", UserJoinedBody{
		Username:  res.Username,
		UserCount: res.UserCount,
	}, cc.Conn)
	s.hub.Broadcast(res.RoomID, "user-count", UserCountBody{Count: res.UserCount})

	return nil
}

func (s *WsServer) handleSendMessage(cc *ConnContext, req SendMessageRequest) error {
	if !s.limiter.AllowAction(cc.Conn.id) {
		zap.L().Debug("ws.message_rate_limited", zap.String("conn_id", cc.Conn.id))
		return errTooManyMessages
	}

	dto, err := s.svc.Message(req.RoomID, cc.Conn.id, req.Text)
	if err != nil {
		return err
	}

	s.hub.Broadcast(dto.RoomID, "message", MessageBody{
		Username:  dto.Username,
		Text:      dto.Text,
		Timestamp: dto.Timestamp,
		RoomID:    dto.RoomID,
	})
	return nil
}

func (s *WsServer) handleSendWave(cc *ConnContext, req SendWaveRequest) error {
	// Waves count against the same bucket as messages.
	if !s.limiter.AllowAction(cc.Conn.id) {
		return errTooManyActions
	}

	dto, err := s.svc.Wave(req.RoomID, cc.Conn.id)
	if err != nil {
		return err
	}

	s.hub.Broadcast(dto.RoomID, "wave", WaveBody{
		Username:  dto.Username,
		Timestamp: dto.Timestamp,
		RoomID:    dto.RoomID,
	})
	return nil
}

func (s *WsServer) handleLeaveRoom(cc *ConnContext, _ LeaveRoomRequest) error {
	s.leave(cc)
	return nil
}

func (s *WsServer) handlePing(cc *ConnContext, req map[string]any) error {
	body := make(map[string]any, len(req)+1)
	for k, v := range req {
		body[k] = v
	}
	body["timestamp"] = time.Now().UnixMilli()
	cc.emit("pong", body)
	return nil
}

// leave performs the paired release and notifies the room. Safe to call when
// the connection is not in any room.
func (s *WsServer) leave(cc *ConnContext) {
	left, ok := s.svc.Leave(cc.Conn.id)
	if ok {
		s.hub.Leave(left.RoomID, cc.Conn)
		s.hub.Broadcast(left.RoomID, "user-left", UserLeftBody{
			Username:  left.Username,
			UserCount: left.UserCount,
		})
		s.hub.Broadcast(left.RoomID, "user-count", UserCountBody{Count: left.UserCount})
	}
}

// ---------------------------------------------------------------------------
//  Connection loops
// ---------------------------------------------------------------------------

func (s *WsServer) reader(conn *clientConn) {
	cc := &ConnContext{Conn: conn}
	defer s.teardown(cc)

	conn.rawConn.SetReadLimit(maxFrameSize)
	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			cc.emitError("Invalid payload")
			continue
		}
		s.dispatch(cc, env)
	}
}

// dispatch is the handler boundary: any error or panic becomes an error event
// on the originating connection, never a dead process.
func (s *WsServer) dispatch(cc *ConnContext, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("ws.handler_panic",
				zap.String("event", env.Event),
				zap.String("conn_id", cc.Conn.id),
				zap.Any("panic", r),
			)
			cc.emitError("Server error")
		}
	}()

	if err := s.router.dispatch(cc, env); err != nil {
		cc.emitError(userMessage(err))
	}
}

func (s *WsServer) teardown(cc *ConnContext) {
	s.leave(cc)
	s.limiter.ForgetAction(cc.Conn.id)
	cc.Conn.rawConn.Close()
	zap.L().Info("ws.disconnected", zap.String("conn_id", cc.Conn.id))
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.ping(); err != nil {
			conn.rawConn.Close()
			return
		}
	}
}

// userMessage maps internal errors onto the messages the widget shows.
func userMessage(err error) string {
	switch {
	case errors.Is(err, presence.ErrInvalidRoomID):
		return "Invalid room ID"
	case errors.Is(err, presence.ErrUsernameTaken):
		return "Failed to reserve username"
	case errors.Is(err, presence.ErrEmptyMessage):
		return "Invalid message"
	case errors.Is(err, presence.ErrMessageTooLong):
		return "Message too long"
	case errors.Is(err, presence.ErrNotInRoom):
		return "Not in room"
	case errors.Is(err, errTooManyMessages):
		return "Too many messages. Please slow down."
	case errors.Is(err, errTooManyActions):
		return "Too many actions. Please slow down."
	case errors.Is(err, errUnknownEvent):
		return "Unknown event"
	case errors.Is(err, errInvalidPayload):
		return "Invalid payload"
	default:
		return "Server error"
	}
}
