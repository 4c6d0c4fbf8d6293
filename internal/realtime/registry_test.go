package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// fakeStream records written frames and can be flipped to fail writes.
type fakeStream struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (s *fakeStream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("broken pipe")
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeStream) lastFrame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return ""
	}
	return string(s.frames[len(s.frames)-1])
}

func newTestRegistry() *Registry {
	r := NewRegistry(time.Hour) // heartbeat driven manually in tests
	r.now = func() time.Time {
		return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	}
	return r
}

func TestRegistry_AddClientWritesConnectedEvent(t *testing.T) {
	r := newTestRegistry()
	stream := &fakeStream{}

	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, stream)

	require.Equal(t, 1, stream.frameCount())
	frame := stream.lastFrame()
	assert.Contains(t, frame, "event: connected\n")
	assert.Contains(t, frame, `"tenant_id":"hotel-1"`)
	assert.Contains(t, frame, `"user_id":"user-1"`)
	assert.True(t, strings.HasSuffix(frame, "\n\n"))
}

func TestRegistry_TenantIsolation(t *testing.T) {
	r := newTestRegistry()
	streamA := &fakeStream{}
	streamB := &fakeStream{}
	r.AddClient("hotel-a", "user-1", "Ann", domain.RoleStaff, streamA)
	r.AddClient("hotel-b", "user-1", "Bob", domain.RoleStaff, streamB)

	framesBeforeA := streamA.frameCount()
	framesBeforeB := streamB.frameCount()

	sent := r.Broadcast("hotel-a", "stats_changed", map[string]int{"expired": 2})

	assert.Equal(t, 1, sent)
	assert.Equal(t, framesBeforeA+1, streamA.frameCount())
	assert.Equal(t, framesBeforeB, streamB.frameCount(), "other tenant must never receive the event")
}

func TestRegistry_SupersedesExistingConnection(t *testing.T) {
	r := newTestRegistry()
	first := &fakeStream{}
	second := &fakeStream{}

	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, first)
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, second)

	assert.True(t, first.isClosed(), "superseded stream must be closed")
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, r.Stats().TotalConnections)

	// The replacement receives subsequent events, the old stream does not.
	framesBefore := first.frameCount()
	sent := r.Broadcast("hotel-1", "x", nil)
	assert.Equal(t, 1, sent)
	assert.Equal(t, framesBefore, first.frameCount())
}

func TestRegistry_DetachStreamOnlyRemovesOwnStream(t *testing.T) {
	r := newTestRegistry()
	first := &fakeStream{}
	second := &fakeStream{}

	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, first)
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, second)

	// The superseded handler wakes up and detaches; the replacement must
	// survive.
	removed := r.DetachStream("hotel-1", "user-1", first)
	assert.False(t, removed)
	assert.Equal(t, 1, r.Stats().TotalConnections)

	removed = r.DetachStream("hotel-1", "user-1", second)
	assert.True(t, removed)
	assert.Equal(t, 0, r.Stats().TotalConnections)
}

func TestRegistry_RemoveClientIdempotent(t *testing.T) {
	r := newTestRegistry()
	stream := &fakeStream{}
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, stream)

	assert.True(t, r.RemoveClient("hotel-1", "user-1"))
	assert.False(t, r.RemoveClient("hotel-1", "user-1"))
	assert.True(t, stream.isClosed())

	// Empty tenant sub-map is cleaned up.
	stats := r.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.NotContains(t, stats.PerTenant, "hotel-1")
}

func TestRegistry_BroadcastNoConnections(t *testing.T) {
	r := newTestRegistry()

	sent := r.Broadcast("hotel-ghost", "x", map[string]string{"k": "v"})

	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, r.Stats().TotalConnections)
}

func TestRegistry_AddClientFailedHandshakeIsNotCounted(t *testing.T) {
	r := newTestRegistry()
	stream := &fakeStream{failWrites: true}

	openedBefore := testutil.ToFloat64(connectionsOpened.WithLabelValues("hotel-handshake"))
	r.AddClient("hotel-handshake", "user-1", "Ann", domain.RoleStaff, stream)

	assert.Equal(t, 0, r.Stats().TotalConnections)
	assert.True(t, stream.isClosed())
	assert.Equal(t, openedBefore, testutil.ToFloat64(connectionsOpened.WithLabelValues("hotel-handshake")),
		"a connection that never received the handshake is not counted as opened")
}

func TestRegistry_BroadcastPrunesDeadConnections(t *testing.T) {
	r := newTestRegistry()
	alive := &fakeStream{}
	dead := &fakeStream{}
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, alive)
	r.AddClient("hotel-1", "user-2", "Bob", domain.RoleStaff, dead)
	dead.failWrites = true

	sent := r.Broadcast("hotel-1", "x", nil)

	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, r.Stats().TotalConnections)
	assert.True(t, dead.isClosed())
}

func TestRegistry_BroadcastToRole(t *testing.T) {
	r := newTestRegistry()
	admin := &fakeStream{}
	staff := &fakeStream{}
	r.AddClient("hotel-1", "admin-1", "Ann", domain.RoleHotelAdmin, admin)
	r.AddClient("hotel-1", "staff-1", "Bob", domain.RoleStaff, staff)

	framesBefore := staff.frameCount()
	sent := r.BroadcastToRole("hotel-1", "x", nil, []domain.Role{domain.RoleHotelAdmin})

	assert.Equal(t, 1, sent)
	assert.Equal(t, framesBefore, staff.frameCount())
}

func TestRegistry_BroadcastAll(t *testing.T) {
	r := newTestRegistry()
	a := &fakeStream{}
	b := &fakeStream{}
	r.AddClient("hotel-a", "user-1", "Ann", domain.RoleStaff, a)
	r.AddClient("hotel-b", "user-2", "Bob", domain.RoleStaff, b)

	sent := r.BroadcastAll("system_alert", map[string]string{"msg": "maintenance"})

	assert.Equal(t, 2, sent)
}

func TestRegistry_SendToUser(t *testing.T) {
	r := newTestRegistry()
	stream := &fakeStream{}
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, stream)

	assert.True(t, r.SendToUser("hotel-1", "user-1", "notification", map[string]string{"id": "n-1"}))
	assert.False(t, r.SendToUser("hotel-1", "user-absent", "notification", nil))

	stream.failWrites = true
	assert.False(t, r.SendToUser("hotel-1", "user-1", "notification", nil))
	assert.Equal(t, 0, r.Stats().TotalConnections, "failed write prunes the connection")
}

func TestRegistry_HeartbeatPrunesDeadConnection(t *testing.T) {
	r := newTestRegistry()
	alive := &fakeStream{}
	dead := &fakeStream{}
	r.AddClient("hotel-1", "user-1", "Ann", domain.RoleStaff, alive)
	r.AddClient("hotel-2", "user-2", "Bob", domain.RoleStaff, dead)
	require.Equal(t, 2, r.Stats().TotalConnections)
	dead.failWrites = true

	pruned := r.Heartbeat()

	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, r.Stats().TotalConnections)
	assert.Contains(t, alive.lastFrame(), ": heartbeat ")
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	a := &fakeStream{}
	b := &fakeStream{}
	r.AddClient("hotel-a", "user-1", "Ann", domain.RoleStaff, a)
	r.AddClient("hotel-b", "user-2", "Bob", domain.RoleStaff, b)

	r.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.Stats().TotalConnections)
}

func TestFormatEvent_WireFormat(t *testing.T) {
	frame, err := formatEvent("1234", "lots_expired", map[string]int{"count": 3})
	require.NoError(t, err)

	assert.Equal(t, "id: 1234\nevent: lots_expired\ndata: {\"count\":3}\n\n", string(frame))
}

func TestFormatHeartbeat_WireFormat(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	frame := formatHeartbeat(now)

	assert.Equal(t, ": heartbeat 2026-03-14T10:30:00Z\n\n", string(frame))
}

func TestNextEventID_Monotonic(t *testing.T) {
	now := time.Now()
	prev := nextEventID(now)
	for i := 0; i < 100; i++ {
		id := nextEventID(now)
		assert.True(t, id > prev, "ids must strictly increase even within one millisecond")
		prev = id
	}
}

func TestFormatEvent_PayloadIsValidJSON(t *testing.T) {
	frame, err := formatEvent("1", "connected", map[string]any{
		"tenant_id": "hotel-1",
		"user_id":   "user-1",
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(frame), "\n\n"), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[2], "data: "))

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &payload))
	assert.Equal(t, "hotel-1", payload["tenant_id"])
}
