package usernames

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxGenerateAttempts = 50

// Allocator hands out display names that are collision-free within a room.
// Reservations are room-scoped: the same name may be in use in two unrelated
// rooms. All methods are safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	used     map[string]map[string]struct{} // roomID -> set of names
	mappings map[string]reservation         // connID -> reservation
}

type reservation struct {
	roomID   string
	username string
}

// ReserveResult reports a reservation attempt. On collision, Suggestion
// carries a freshly generated alternative; the caller decides whether to
// retry.
type ReserveResult struct {
	Success    bool
	Username   string
	RoomID     string
	Suggestion string
}

// Stats aggregates the allocator for the ops surface.
type Stats struct {
	TotalRooms           int `json:"totalRooms"`
	TotalReservedNames   int `json:"totalReservedNames"`
	TotalActiveMappings  int `json:"totalActiveMappings"`
	AvailableNames       int `json:"availableNames"`
	PossibleCombinations int `json:"possibleCombinations"`
}

func NewAllocator() *Allocator {
	return &Allocator{
		used:     make(map[string]map[string]struct{}),
		mappings: make(map[string]reservation),
	}
}

// Generate draws a random word-list name with a two-digit suffix (10-99).
// Not unique by construction.
func Generate() string {
	name := whimsicalNames[rand.Intn(len(whimsicalNames))]
	return fmt.Sprintf("%s%d", name, rand.Intn(90)+10)
}

// GenerateUnique returns preferred if it is unused in the room, otherwise
// retries Generate up to a bounded attempt count. On exhaustion it falls back
// to a timestamp-derived name so it always terminates.
func (a *Allocator) GenerateUnique(roomID, preferred string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	username := preferred
	if username == "" {
		username = Generate()
	}

	attempts := 0
	for a.isUsedLocked(roomID, username) && attempts < maxGenerateAttempts {
		username = Generate()
		attempts++
	}

	if attempts >= maxGenerateAttempts {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		username = "User" + ts[len(ts)-4:]
	}
	return username
}

// IsUsed reports whether username is reserved in the room.
func (a *Allocator) IsUsed(roomID, username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isUsedLocked(roomID, username)
}

func (a *Allocator) isUsedLocked(roomID, username string) bool {
	names, ok := a.used[roomID]
	if !ok {
		return false
	}
	_, used := names[username]
	return used
}

// Reserve records username for connID in the room. Any reservation the
// connection already holds (possibly in another room) is released first.
func (a *Allocator) Reserve(roomID, connID, username string) ReserveResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseLocked(connID)

	names, ok := a.used[roomID]
	if !ok {
		names = make(map[string]struct{})
		a.used[roomID] = names
	}

	if _, taken := names[username]; taken {
		return ReserveResult{
			Success:    false,
			Suggestion: a.generateUniqueLocked(roomID),
		}
	}

	names[username] = struct{}{}
	a.mappings[connID] = reservation{roomID: roomID, username: username}

	return ReserveResult{Success: true, Username: username, RoomID: roomID}
}

// generateUniqueLocked mirrors GenerateUnique for callers already holding the
// lock.
func (a *Allocator) generateUniqueLocked(roomID string) string {
	username := Generate()
	attempts := 0
	for a.isUsedLocked(roomID, username) && attempts < maxGenerateAttempts {
		username = Generate()
		attempts++
	}
	if attempts >= maxGenerateAttempts {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		username = "User" + ts[len(ts)-4:]
	}
	return username
}

// Release drops the connection's reservation. Idempotent; reports whether
// anything was actually released.
func (a *Allocator) Release(connID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(connID)
}

func (a *Allocator) releaseLocked(connID string) bool {
	res, ok := a.mappings[connID]
	if !ok {
		return false
	}

	if names, ok := a.used[res.roomID]; ok {
		delete(names, res.username)
		if len(names) == 0 {
			delete(a.used, res.roomID)
		}
	}
	delete(a.mappings, connID)

	zap.L().Debug("usernames.released",
		zap.String("username", res.username),
		zap.String("room_id", res.roomID),
	)
	return true
}

// UsernameOf returns the name currently reserved by the connection.
func (a *Allocator) UsernameOf(connID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.mappings[connID]
	if !ok {
		return "", false
	}
	return res.username, true
}

// RoomUsernames lists the names reserved in a room.
func (a *Allocator) RoomUsernames(roomID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := a.used[roomID]
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	return out
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z]+\d{2}$`)

// ValidFormat reports whether name looks like a generated one: a word-list
// entry followed by a 10-99 number.
func ValidFormat(name string) bool {
	if !usernamePattern.MatchString(name) {
		return false
	}

	namePart := strings.TrimRight(name, "0123456789")
	found := false
	for _, n := range whimsicalNames {
		if strings.EqualFold(n, namePart) {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	num, err := strconv.Atoi(name[len(namePart):])
	if err != nil {
		return false
	}
	return num >= 10 && num <= 99
}

// GetStats aggregates the reservation table for the ops surface.
func (a *Allocator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, names := range a.used {
		total += len(names)
	}
	return Stats{
		TotalRooms:           len(a.used),
		TotalReservedNames:   total,
		TotalActiveMappings:  len(a.mappings),
		AvailableNames:       len(whimsicalNames),
		PossibleCombinations: len(whimsicalNames) * 90,
	}
}
