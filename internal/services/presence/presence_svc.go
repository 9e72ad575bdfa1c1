package presence

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"pagechatgo/internal/rooms"
	"pagechatgo/internal/usernames"
)

var (
	ErrInvalidRoomID  = errors.New("invalid room id")
	ErrNotInRoom      = errors.New("not in room")
	ErrEmptyMessage   = errors.New("invalid message")
	ErrMessageTooLong = errors.New("message too long")
	ErrUsernameTaken  = errors.New("failed to reserve username")
)

// RoomUser is the member shape exposed to clients.
type RoomUser struct {
	Username string `json:"username"`
}

type JoinDTO struct {
	RoomID    string
	Username  string
	UserCount int
	Users     []RoomUser
	// Previous holds the leave result for the room the connection moved out
	// of, so the transport can notify it.
	Previous *LeaveDTO
}

type LeaveDTO struct {
	RoomID    string
	Username  string
	UserCount int
}

type MessageDTO struct {
	RoomID    string
	Username  string
	Text      string
	Timestamp int64
}

type WaveDTO struct {
	RoomID    string
	Username  string
	Timestamp int64
}

// EvictedDTO identifies a member force-released by a sweep so the transport
// can unbind the connection from its room.
type EvictedDTO struct {
	RoomID   string
	ConnID   string
	Username string
}

type SweepDTO struct {
	RoomsRemoved int
	UsersRemoved int
	Evicted      []EvictedDTO
}

type StatsDTO struct {
	Rooms     rooms.Stats     `json:"rooms"`
	Usernames usernames.Stats `json:"usernames"`
}

// IPresenceService coordinates the room registry and the username allocator
// so a member entry and its name reservation are always created and destroyed
// together.
type IPresenceService interface {
	Join(roomID, connID, preferredUsername string) (*JoinDTO, error)
	Leave(connID string) (*LeaveDTO, bool)
	Message(roomID, connID, text string) (*MessageDTO, error)
	Wave(roomID, connID string) (*WaveDTO, error)
	Sweep(now time.Time) SweepDTO
	GetStats() *StatsDTO
}

type presenceService struct {
	// mu serializes every transition that touches both the registry and the
	// allocator. The paired-release invariant depends on it.
	mu        sync.Mutex
	registry  *rooms.Registry
	allocator *usernames.Allocator

	maxMessageLength  int
	emptyRoomGrace    time.Duration
	roomIdleTimeout   time.Duration
	memberIdleTimeout time.Duration
}

type Options struct {
	MaxMessageLength  int
	EmptyRoomGrace    time.Duration
	RoomIdleTimeout   time.Duration
	MemberIdleTimeout time.Duration
}

func NewPresenceService(registry *rooms.Registry, allocator *usernames.Allocator, opts Options) IPresenceService {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.EmptyRoomGrace <= 0 {
		opts.EmptyRoomGrace = 30 * time.Second
	}
	if opts.RoomIdleTimeout <= 0 {
		opts.RoomIdleTimeout = 24 * time.Hour
	}
	if opts.MemberIdleTimeout <= 0 {
		opts.MemberIdleTimeout = 2 * time.Hour
	}
	return &presenceService{
		registry:          registry,
		allocator:         allocator,
		maxMessageLength:  opts.MaxMessageLength,
		emptyRoomGrace:    opts.EmptyRoomGrace,
		roomIdleTimeout:   opts.RoomIdleTimeout,
		memberIdleTimeout: opts.MemberIdleTimeout,
	}
}

// Join validates the room id, reserves a collision-free username and adds the
// member. A reservation failure leaves the registry untouched; once the name
// is reserved the registry add cannot fail, so the two structures never
// diverge. Rejoining from another room releases and leaves the old one first.
func (svc *presenceService) Join(roomID, connID, preferredUsername string) (*JoinDTO, error) {
	if !rooms.ValidateRoomID(roomID) {
		return nil, ErrInvalidRoomID
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	username := svc.allocator.GenerateUnique(roomID, preferredUsername)
	res := svc.allocator.Reserve(roomID, connID, username)
	if !res.Success {
		// GenerateUnique already avoided collisions; losing the race here
		// means a concurrent reserve slipped in. Take the suggestion once.
		res = svc.allocator.Reserve(roomID, connID, res.Suggestion)
		if !res.Success {
			// Reserve already dropped any prior reservation; drop the prior
			// membership too so the structures stay paired.
			svc.registry.LeaveCurrent(connID)
			return nil, ErrUsernameTaken
		}
		username = res.Username
	}

	join := svc.registry.Join(roomID, connID, username)

	var prev *LeaveDTO
	if join.Previous != nil {
		prev = &LeaveDTO{
			RoomID:    join.Previous.RoomID,
			Username:  join.Previous.Username,
			UserCount: join.Previous.UserCount,
		}
	}

	users := make([]RoomUser, 0, len(join.Users))
	for _, u := range join.Users {
		users = append(users, RoomUser{Username: u.Username})
	}

	zap.L().Info("presence.joined",
		zap.String("room_id", roomID),
		zap.String("username", username),
		zap.Int("user_count", join.UserCount),
	)

	return &JoinDTO{
		RoomID:    roomID,
		Username:  username,
		UserCount: join.UserCount,
		Users:     users,
		Previous:  prev,
	}, nil
}

// Leave releases the member entry and the name reservation together.
// Idempotent; the second return value reports whether anything was released.
func (svc *presenceService) Leave(connID string) (*LeaveDTO, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	left, ok := svc.registry.LeaveCurrent(connID)
	svc.allocator.Release(connID)
	if !ok {
		return nil, false
	}

	zap.L().Info("presence.left",
		zap.String("room_id", left.RoomID),
		zap.String("username", left.Username),
		zap.Int("user_count", left.UserCount),
	)

	return &LeaveDTO{
		RoomID:    left.RoomID,
		Username:  left.Username,
		UserCount: left.UserCount,
	}, true
}

// Message validates and accounts for a chat message. Callers must rate-limit
// before calling; nothing here mutates state when validation fails.
func (svc *presenceService) Message(roomID, connID, text string) (*MessageDTO, error) {
	// Text checks come before the membership check so a malformed message
	// reads as malformed regardless of who sent it.
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	// Length is counted in characters, matching what clients enforce.
	if utf8.RuneCountInString(text) > svc.maxMessageLength {
		return nil, ErrMessageTooLong
	}

	username, err := svc.checkInRoom(roomID, connID)
	if err != nil {
		return nil, err
	}

	svc.registry.Touch(connID)
	svc.registry.IncrementMessageCount(roomID)

	return &MessageDTO{
		RoomID:    roomID,
		Username:  username,
		Text:      trimmed,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Wave validates and accounts for a wave, same gating as Message minus the
// text checks.
func (svc *presenceService) Wave(roomID, connID string) (*WaveDTO, error) {
	username, err := svc.checkInRoom(roomID, connID)
	if err != nil {
		return nil, err
	}

	svc.registry.Touch(connID)

	return &WaveDTO{
		RoomID:    roomID,
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (svc *presenceService) checkInRoom(roomID, connID string) (string, error) {
	current, ok := svc.registry.RoomIDOf(connID)
	if !ok || current != roomID {
		return "", ErrNotInRoom
	}
	username, ok := svc.allocator.UsernameOf(connID)
	if !ok {
		return "", ErrNotInRoom
	}
	return username, nil
}

// Sweep runs the registry sweep and releases the reservation of every member
// it evicted, keeping the two structures paired through the janitor path.
func (svc *presenceService) Sweep(now time.Time) SweepDTO {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	res := svc.registry.Sweep(now, svc.emptyRoomGrace, svc.roomIdleTimeout, svc.memberIdleTimeout)

	out := SweepDTO{RoomsRemoved: res.RoomsRemoved, UsersRemoved: res.UsersRemoved}
	for _, ev := range res.Evicted {
		svc.allocator.Release(ev.ConnID)
		out.Evicted = append(out.Evicted, EvictedDTO{
			RoomID:   ev.RoomID,
			ConnID:   ev.ConnID,
			Username: ev.Username,
		})
	}
	return out
}

func (svc *presenceService) GetStats() *StatsDTO {
	return &StatsDTO{
		Rooms:     svc.registry.GetStats(),
		Usernames: svc.allocator.GetStats(),
	}
}
