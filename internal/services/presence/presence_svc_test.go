package presence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagechatgo/internal/rooms"
	"pagechatgo/internal/usernames"
)

type fixture struct {
	registry  *rooms.Registry
	allocator *usernames.Allocator
	svc       IPresenceService
}

func newFixture(opts Options) *fixture {
	registry := rooms.NewRegistry()
	allocator := usernames.NewAllocator()
	return &fixture{
		registry:  registry,
		allocator: allocator,
		svc:       NewPresenceService(registry, allocator, opts),
	}
}

// requirePaired asserts the central invariant: a connection has a name
// reservation iff it has a member entry, in the same room.
func (f *fixture) requirePaired(t *testing.T, connID string) {
	t.Helper()

	roomID, inRoom := f.registry.RoomIDOf(connID)
	username, reserved := f.allocator.UsernameOf(connID)
	require.Equal(t, inRoom, reserved, "member entry and reservation must exist together")
	if inRoom {
		assert.True(t, f.allocator.IsUsed(roomID, username))
	}
}

func TestJoinGeneratesUsername(t *testing.T) {
	f := newFixture(Options{})

	res, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)
	assert.Equal(t, "room_42", res.RoomID)
	assert.NotEmpty(t, res.Username)
	assert.Equal(t, 1, res.UserCount)
	f.requirePaired(t, "conn-a")
}

func TestJoinRejectsInvalidRoomID(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.svc.Join("bad room!", "conn-a", "")
	assert.ErrorIs(t, err, ErrInvalidRoomID)

	// Nothing reserved, nothing joined.
	f.requirePaired(t, "conn-a")
	_, ok := f.registry.RoomIDOf("conn-a")
	assert.False(t, ok)
}

func TestPreferredNameCollisionGetsDifferentName(t *testing.T) {
	f := newFixture(Options{})

	a, err := f.svc.Join("room_42", "conn-a", "moonbounce42")
	require.NoError(t, err)
	assert.Equal(t, "moonbounce42", a.Username)

	b, err := f.svc.Join("room_42", "conn-b", "moonbounce42")
	require.NoError(t, err)
	assert.NotEqual(t, "moonbounce42", b.Username)
	assert.Equal(t, 2, b.UserCount)
}

func TestRejoinSameRoomKeepsCountStable(t *testing.T) {
	f := newFixture(Options{})

	first, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	second, err := f.svc.Join("room_42", "conn-a", first.Username)
	require.NoError(t, err)
	assert.Equal(t, 1, second.UserCount)
	f.requirePaired(t, "conn-a")
}

func TestJoinMovesAcrossRoomsWithPairedRelease(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.svc.Join("room_1", "conn-a", "moonbounce42")
	require.NoError(t, err)

	res, err := f.svc.Join("room_2", "conn-a", "moonbounce42")
	require.NoError(t, err)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "room_1", res.Previous.RoomID)

	// Old room fully released on both sides.
	assert.Equal(t, 0, f.registry.Count("room_1"))
	assert.False(t, f.allocator.IsUsed("room_1", "moonbounce42"))
	f.requirePaired(t, "conn-a")
}

func TestLeaveReleasesBothSides(t *testing.T) {
	f := newFixture(Options{})

	res, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	left, ok := f.svc.Leave("conn-a")
	require.True(t, ok)
	assert.Equal(t, "room_42", left.RoomID)
	assert.Equal(t, res.Username, left.Username)
	assert.Equal(t, 0, left.UserCount)
	f.requirePaired(t, "conn-a")

	// Idempotent.
	_, ok = f.svc.Leave("conn-a")
	assert.False(t, ok)
	f.requirePaired(t, "conn-a")
}

func TestReservationsMirrorMembers(t *testing.T) {
	f := newFixture(Options{})

	for _, conn := range []string{"conn-a", "conn-b", "conn-c"} {
		_, err := f.svc.Join("room_42", conn, "")
		require.NoError(t, err)
	}
	f.svc.Leave("conn-b")

	info, ok := f.registry.Info("room_42")
	require.True(t, ok)

	memberNames := make([]string, 0, len(info.Users))
	for _, u := range info.Users {
		memberNames = append(memberNames, u.Username)
	}
	assert.ElementsMatch(t, memberNames, f.allocator.RoomUsernames("room_42"))
}

func TestMessageValidation(t *testing.T) {
	f := newFixture(Options{MaxMessageLength: 500})

	_, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		roomID  string
		connID  string
		text    string
		wantErr error
	}{
		{name: "not joined room", roomID: "room_other", connID: "conn-a", text: "hi", wantErr: ErrNotInRoom},
		{name: "empty", roomID: "room_42", connID: "conn-a", text: "", wantErr: ErrEmptyMessage},
		{name: "whitespace only", roomID: "room_42", connID: "conn-a", text: "   ", wantErr: ErrEmptyMessage},
		{name: "too long", roomID: "room_42", connID: "conn-a", text: strings.Repeat("a", 501), wantErr: ErrMessageTooLong},
		// Text checks run before the membership check, so a stranger's
		// malformed message still reads as malformed.
		{name: "empty from non-member", roomID: "room_42", connID: "conn-z", text: "  ", wantErr: ErrEmptyMessage},
		{name: "too long from non-member", roomID: "room_42", connID: "conn-z", text: strings.Repeat("a", 501), wantErr: ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Message(tt.roomID, tt.connID, tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Rejected messages never bumped the counter.
	info, _ := f.registry.Info("room_42")
	assert.Equal(t, int64(0), info.MessageCount)
}

func TestMessageLengthCountsCharacters(t *testing.T) {
	f := newFixture(Options{MaxMessageLength: 500})

	_, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	// 500 two-byte characters are within the cap; 501 are not.
	_, err = f.svc.Message("room_42", "conn-a", strings.Repeat("é", 500))
	assert.NoError(t, err)

	_, err = f.svc.Message("room_42", "conn-a", strings.Repeat("é", 501))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestMessageTrimsAndCounts(t *testing.T) {
	f := newFixture(Options{})

	join, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	dto, err := f.svc.Message("room_42", "conn-a", "  hi there  ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", dto.Text)
	assert.Equal(t, join.Username, dto.Username)
	assert.NotZero(t, dto.Timestamp)

	info, _ := f.registry.Info("room_42")
	assert.Equal(t, int64(1), info.MessageCount)
}

func TestWaveRequiresMembership(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.svc.Wave("room_42", "conn-a")
	assert.ErrorIs(t, err, ErrNotInRoom)

	join, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)

	dto, err := f.svc.Wave("room_42", "conn-a")
	require.NoError(t, err)
	assert.Equal(t, join.Username, dto.Username)

	// Waves do not count as messages.
	info, _ := f.registry.Info("room_42")
	assert.Equal(t, int64(0), info.MessageCount)
}

func TestSweepReleasesReservationsOfEvicted(t *testing.T) {
	f := newFixture(Options{
		EmptyRoomGrace:    30 * time.Second,
		RoomIdleTimeout:   24 * time.Hour,
		MemberIdleTimeout: 2 * time.Hour,
	})

	_, err := f.svc.Join("room_42", "conn-a", "moonbounce42")
	require.NoError(t, err)

	res := f.svc.Sweep(time.Now().Add(25 * time.Hour))
	assert.Equal(t, 1, res.RoomsRemoved)
	assert.Equal(t, 1, res.UsersRemoved)
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, EvictedDTO{
		RoomID:   "room_42",
		ConnID:   "conn-a",
		Username: "moonbounce42",
	}, res.Evicted[0])

	// Paired release through the janitor path too.
	f.requirePaired(t, "conn-a")
	assert.False(t, f.allocator.IsUsed("room_42", "moonbounce42"))
}

func TestSweepRemovesEmptyRoomAfterGrace(t *testing.T) {
	f := newFixture(Options{EmptyRoomGrace: 30 * time.Second})

	_, err := f.svc.Join("room_7", "conn-a", "")
	require.NoError(t, err)
	f.svc.Leave("conn-a")

	// Within the grace window the room must survive a sweep.
	res := f.svc.Sweep(time.Now())
	assert.Equal(t, 0, res.RoomsRemoved)
	_, ok := f.registry.Info("room_7")
	assert.True(t, ok)

	res = f.svc.Sweep(time.Now().Add(time.Minute))
	assert.Equal(t, 1, res.RoomsRemoved)
	_, ok = f.registry.Info("room_7")
	assert.False(t, ok)
}

func TestGetStats(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.svc.Join("room_42", "conn-a", "")
	require.NoError(t, err)
	_, err = f.svc.Message("room_42", "conn-a", "hi")
	require.NoError(t, err)

	stats := f.svc.GetStats()
	assert.Equal(t, 1, stats.Rooms.TotalRooms)
	assert.Equal(t, 1, stats.Rooms.TotalUsers)
	assert.Equal(t, int64(1), stats.Rooms.TotalMessages)
	assert.Equal(t, 1, stats.Usernames.TotalActiveMappings)
}
