package rooms

import (
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Member is a connection's presence record inside a room.
type Member struct {
	ConnID   string    `json:"connId"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

type room struct {
	id           string
	members      map[string]*Member // connID -> member
	createdAt    time.Time
	lastActivity time.Time
	messageCount int64
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	ID           string    `json:"id"`
	UserCount    int       `json:"userCount"`
	Users        []Member  `json:"users"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int64     `json:"messageCount"`
}

// JoinResult reports the state of the room right after a join, plus the
// leave result for the room the connection was moved out of, if any.
type JoinResult struct {
	RoomID    string
	UserCount int
	Users     []Member
	Previous  *LeaveResult
}

// LeaveResult reports the state of the room right after a member left.
type LeaveResult struct {
	RoomID    string
	Username  string
	UserCount int
}

// EvictedMember identifies a member removed by Sweep, with enough context
// for the caller to release its reservation and unbind its connection.
type EvictedMember struct {
	RoomID   string
	ConnID   string
	Username string
}

// SweepResult is returned by Sweep.
type SweepResult struct {
	RoomsRemoved int
	UsersRemoved int
	Evicted      []EvictedMember
}

// RoomStat is one row of the ops stats output.
type RoomStat struct {
	ID           string        `json:"id"`
	UserCount    int           `json:"userCount"`
	MessageCount int64         `json:"messageCount"`
	Age          time.Duration `json:"age"`
	Idle         time.Duration `json:"idle"`
}

// Stats aggregates the registry for the ops surface.
type Stats struct {
	TotalRooms    int        `json:"totalRooms"`
	TotalUsers    int        `json:"totalUsers"`
	TotalMessages int64      `json:"totalMessages"`
	Rooms         []RoomStat `json:"rooms"`
}

var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRoomID reports whether id is alphanumeric/underscore/hyphen and at
// most 100 characters. Ids are hash-derived on the client; the server only
// checks the shape.
func ValidateRoomID(id string) bool {
	return id != "" && len(id) <= 100 && roomIDPattern.MatchString(id)
}

// Registry is the directory of active rooms and their members. It is the
// single owner of Room/Member records; all methods are safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	userRooms map[string]string // connID -> roomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]*room),
		userRooms: make(map[string]string),
	}
}

// Join adds the connection to roomID, creating the room lazily and removing
// the connection from its previous room first. It never fails; room id
// validation happens one layer up.
func (r *Registry) Join(roomID, connID, username string) *JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev *LeaveResult
	if prevRoomID, ok := r.userRooms[connID]; ok {
		prev = r.leaveLocked(prevRoomID, connID)
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		now := time.Now()
		rm = &room{
			id:           roomID,
			members:      make(map[string]*Member),
			createdAt:    now,
			lastActivity: now,
		}
		r.rooms[roomID] = rm
		zap.L().Debug("rooms.created", zap.String("room_id", roomID))
	}

	now := time.Now()
	rm.members[connID] = &Member{
		ConnID:   connID,
		Username: username,
		JoinedAt: now,
		LastSeen: now,
	}
	r.userRooms[connID] = roomID
	rm.lastActivity = now

	return &JoinResult{
		RoomID:    roomID,
		UserCount: len(rm.members),
		Users:     rm.memberSnapshot(),
		Previous:  prev,
	}
}

// Leave removes the connection from roomID. Missing room or member is an
// idempotent no-op reported by the second return value.
func (r *Registry) Leave(roomID, connID string) (*LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.leaveLocked(roomID, connID)
	if res == nil {
		return nil, false
	}
	return res, true
}

// LeaveCurrent removes the connection from whatever room it is in, resolved
// through the reverse index.
func (r *Registry) LeaveCurrent(connID string) (*LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.userRooms[connID]
	if !ok {
		return nil, false
	}
	res := r.leaveLocked(roomID, connID)
	if res == nil {
		return nil, false
	}
	return res, true
}

// leaveLocked removes the member and leaves an emptied room in place so the
// janitor's grace predicate can absorb quick reconnects. Caller holds r.mu.
func (r *Registry) leaveLocked(roomID, connID string) *LeaveResult {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	m, ok := rm.members[connID]
	if !ok {
		return nil
	}

	delete(rm.members, connID)
	delete(r.userRooms, connID)
	rm.lastActivity = time.Now()

	return &LeaveResult{
		RoomID:    roomID,
		Username:  m.Username,
		UserCount: len(rm.members),
	}
}

// Count returns the number of members in a room, 0 if absent.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// Info returns a snapshot of a room.
func (r *Registry) Info(roomID string) (*RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return rm.infoSnapshot(), true
}

// UserRoom returns a snapshot of the room the connection is currently in.
func (r *Registry) UserRoom(connID string) (*RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.userRooms[connID]
	if !ok {
		return nil, false
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return rm.infoSnapshot(), true
}

// RoomIDOf returns the id of the connection's current room.
func (r *Registry) RoomIDOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.userRooms[connID]
	return roomID, ok
}

// Touch refreshes the member's lastSeen and the room's lastActivity. Called
// on every inbound action so idle detection stays accurate.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.userRooms[connID]
	if !ok {
		return false
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	m, ok := rm.members[connID]
	if !ok {
		return false
	}

	now := time.Now()
	m.LastSeen = now
	rm.lastActivity = now
	return true
}

// IncrementMessageCount bumps the room's message counter and activity.
func (r *Registry) IncrementMessageCount(roomID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	rm.messageCount++
	rm.lastActivity = time.Now()
	return rm.messageCount
}

// Sweep evicts rooms empty past emptyGrace, rooms (with all members) idle
// past idleTimeout, and members idle past memberIdleTimeout inside otherwise
// active rooms.
func (r *Registry) Sweep(now time.Time, emptyGrace, idleTimeout, memberIdleTimeout time.Duration) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	for roomID, rm := range r.rooms {
		idle := now.Sub(rm.lastActivity)

		if len(rm.members) == 0 && idle > emptyGrace {
			delete(r.rooms, roomID)
			res.RoomsRemoved++
			continue
		}

		if idle > idleTimeout {
			for connID, m := range rm.members {
				delete(r.userRooms, connID)
				res.Evicted = append(res.Evicted, EvictedMember{
					RoomID:   roomID,
					ConnID:   connID,
					Username: m.Username,
				})
				res.UsersRemoved++
			}
			delete(r.rooms, roomID)
			res.RoomsRemoved++
			continue
		}

		for connID, m := range rm.members {
			if now.Sub(m.LastSeen) > memberIdleTimeout {
				delete(rm.members, connID)
				delete(r.userRooms, connID)
				res.Evicted = append(res.Evicted, EvictedMember{
					RoomID:   roomID,
					ConnID:   connID,
					Username: m.Username,
				})
				res.UsersRemoved++
			}
		}
	}
	return res
}

// GetStats aggregates all rooms for the ops surface.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	stats := Stats{Rooms: make([]RoomStat, 0, len(r.rooms))}
	for roomID, rm := range r.rooms {
		stats.TotalRooms++
		stats.TotalUsers += len(rm.members)
		stats.TotalMessages += rm.messageCount
		stats.Rooms = append(stats.Rooms, RoomStat{
			ID:           roomID,
			UserCount:    len(rm.members),
			MessageCount: rm.messageCount,
			Age:          now.Sub(rm.createdAt),
			Idle:         now.Sub(rm.lastActivity),
		})
	}
	return stats
}

func (rm *room) memberSnapshot() []Member {
	users := make([]Member, 0, len(rm.members))
	for _, m := range rm.members {
		users = append(users, *m)
	}
	return users
}

func (rm *room) infoSnapshot() *RoomInfo {
	return &RoomInfo{
		ID:           rm.id,
		UserCount:    len(rm.members),
		Users:        rm.memberSnapshot(),
		CreatedAt:    rm.createdAt,
		LastActivity: rm.lastActivity,
		MessageCount: rm.messageCount,
	}
}
