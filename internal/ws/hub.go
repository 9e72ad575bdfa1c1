package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub keeps client connection sets per room id. Membership metadata lives in
// the room registry; the hub only knows where to deliver frames. One mutex
// guards the map so an add can never land in a room object a concurrent
// leave just reaped.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*room)} }

func (h *Hub) Join(roomID string, c *clientConn) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom()
		h.rooms[roomID] = r
	}
	r.add(c)
	h.mu.Unlock()
}

func (h *Hub) Leave(roomID string, c *clientConn) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		r.remove(c)
		if r.empty() {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Detach drops the connection with the given id from a room. Used when the
// janitor evicts a member the transport never saw disconnect.
func (h *Hub) Detach(roomID, connID string) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		r.removeID(connID)
		if r.empty() {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every connection in the room.
func (h *Hub) Broadcast(roomID, event string, body any) {
	h.send(roomID, event, body, nil)
}

// BroadcastExcept delivers an event to every connection in the room but one.
func (h *Hub) BroadcastExcept(roomID, event string, body any, except *clientConn) {
	h.send(roomID, event, body, except)
}

func (h *Hub) send(roomID, event string, body any, except *clientConn) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := json.Marshal(outEnvelope{Event: event, Body: body})
	if err != nil {
		zap.L().Error("ws.marshal_event", zap.String("event", event), zap.Error(err))
		return
	}
	r.broadcast(msg, except)
}
