// Package realtime maintains live server-sent-event connections to connected
// clients, isolated by tenant, and fans events out to them.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// DefaultHeartbeatInterval is how often keep-alive frames are written.
const DefaultHeartbeatInterval = 30 * time.Second

// EventStream is the outbound half of a live client connection.
// Implementations must tolerate Write after the peer is gone by returning an
// error rather than blocking forever.
type EventStream interface {
	Write(p []byte) error
	Close() error
}

// connection is a single live client. The registry mutex is the only writer
// guard, which keeps per-stream event order equal to call order.
type connection struct {
	tenantID        string
	userID          string
	userName        string
	role            domain.Role
	connectedAt     time.Time
	lastHeartbeatAt time.Time
	stream          EventStream
}

// Registry tracks live connections grouped by tenant. All map access is
// guarded by a single mutex, preserving the at-most-one-connection-per
// (tenant, user) invariant under concurrent attach/detach.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]map[string]*connection

	heartbeatInterval time.Duration
	now               func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry creates an empty connection registry.
func NewRegistry(heartbeatInterval time.Duration) *Registry {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Registry{
		tenants:           make(map[string]map[string]*connection),
		heartbeatInterval: heartbeatInterval,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Heartbeat()
			}
		}
	}()

	slog.Info("connection registry started", "heartbeat_interval", r.heartbeatInterval)
}

// Stop halts the heartbeat loop and closes every live stream.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.CloseAll()
	slog.Info("connection registry stopped")
}

// AddClient registers a live stream for (tenantID, userID). An existing
// connection for the same pair is closed first and superseded. The new stream
// immediately receives a "connected" event carrying its identifiers.
func (r *Registry) AddClient(tenantID, userID, userName string, role domain.Role, stream EventStream) {
	now := r.now()

	conn := &connection{
		tenantID:        tenantID,
		userID:          userID,
		userName:        userName,
		role:            role,
		connectedAt:     now,
		lastHeartbeatAt: now,
		stream:          stream,
	}

	r.mu.Lock()

	if prev, ok := r.tenants[tenantID][userID]; ok {
		// Best-effort close of the superseded stream.
		_ = prev.stream.Close()
		recordConnectionClosed(tenantID, "superseded")
	}

	if r.tenants[tenantID] == nil {
		r.tenants[tenantID] = make(map[string]*connection)
	}
	r.tenants[tenantID][userID] = conn

	frame, err := formatEvent(nextEventID(now), "connected", map[string]any{
		"tenant_id":    tenantID,
		"user_id":      userID,
		"connected_at": now.UTC().Format(time.RFC3339),
	})
	writeErr := err
	if writeErr == nil {
		writeErr = conn.stream.Write(frame)
	}
	if writeErr != nil {
		r.removeLocked(tenantID, userID, "write_failed")
	}

	total := r.totalLocked()
	r.mu.Unlock()

	setConnectionCount(total)
	if writeErr != nil {
		slog.Warn("sse client dropped before handshake",
			"tenant_id", tenantID,
			"user_id", userID,
			"error", writeErr,
		)
		return
	}

	recordConnectionOpened(tenantID)
	slog.Info("sse client connected",
		"tenant_id", tenantID,
		"user_id", userID,
		"role", role,
		"total_connections", total,
	)
}

// RemoveClient detaches the connection for (tenantID, userID). Idempotent;
// returns whether a connection was actually removed.
func (r *Registry) RemoveClient(tenantID, userID string) bool {
	r.mu.Lock()
	removed := r.removeLocked(tenantID, userID, "closed")
	total := r.totalLocked()
	r.mu.Unlock()

	if removed {
		setConnectionCount(total)
		slog.Debug("sse client removed",
			"tenant_id", tenantID,
			"user_id", userID,
			"total_connections", total,
		)
	}
	return removed
}

// DetachStream removes the connection for (tenantID, userID) only when it
// still owns the given stream. A handler whose connection was superseded must
// not tear down its replacement.
func (r *Registry) DetachStream(tenantID, userID string, stream EventStream) bool {
	r.mu.Lock()
	conn, ok := r.tenants[tenantID][userID]
	if !ok || conn.stream != stream {
		r.mu.Unlock()
		return false
	}
	removed := r.removeLocked(tenantID, userID, "closed")
	total := r.totalLocked()
	r.mu.Unlock()

	setConnectionCount(total)
	return removed
}

// removeLocked deletes a connection and its tenant sub-map when it becomes
// empty. Caller holds r.mu.
func (r *Registry) removeLocked(tenantID, userID, reason string) bool {
	users, ok := r.tenants[tenantID]
	if !ok {
		return false
	}
	conn, ok := users[userID]
	if !ok {
		return false
	}

	_ = conn.stream.Close()
	delete(users, userID)
	if len(users) == 0 {
		delete(r.tenants, tenantID)
	}
	recordConnectionClosed(tenantID, reason)
	return true
}

// Broadcast writes an event to every live connection under tenantID.
// A write failure prunes that connection without aborting the rest.
// Returns the number of successful sends.
func (r *Registry) Broadcast(tenantID, event string, data any) int {
	return r.broadcastFiltered(tenantID, event, data, nil)
}

// BroadcastToRole is Broadcast restricted to connections whose role is in
// allowedRoles.
func (r *Registry) BroadcastToRole(tenantID, event string, data any, allowedRoles []domain.Role) int {
	allowed := make(map[domain.Role]bool, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = true
	}
	return r.broadcastFiltered(tenantID, event, data, allowed)
}

// BroadcastAll sends an event to every connection of every tenant. Used only
// for cross-tenant super-admin events.
func (r *Registry) BroadcastAll(event string, data any) int {
	r.mu.Lock()
	tenantIDs := make([]string, 0, len(r.tenants))
	for tenantID := range r.tenants {
		tenantIDs = append(tenantIDs, tenantID)
	}
	r.mu.Unlock()

	sent := 0
	for _, tenantID := range tenantIDs {
		sent += r.Broadcast(tenantID, event, data)
	}
	return sent
}

func (r *Registry) broadcastFiltered(tenantID, event string, data any, allowed map[domain.Role]bool) int {
	frame, err := formatEvent(nextEventID(r.now()), event, data)
	if err != nil {
		slog.Error("failed to encode broadcast event", "event", event, "error", err)
		return 0
	}

	r.mu.Lock()
	users := r.tenants[tenantID]
	if len(users) == 0 {
		r.mu.Unlock()
		slog.Debug("broadcast to tenant with no connections", "tenant_id", tenantID, "event", event)
		return 0
	}

	sent := 0
	var dead []string
	for userID, conn := range users {
		if allowed != nil && !allowed[conn.role] {
			continue
		}
		if err := conn.stream.Write(frame); err != nil {
			dead = append(dead, userID)
			continue
		}
		sent++
	}
	for _, userID := range dead {
		r.removeLocked(tenantID, userID, "write_failed")
	}
	total := r.totalLocked()
	r.mu.Unlock()

	recordBroadcast(event, sent)
	if len(dead) > 0 {
		setConnectionCount(total)
		slog.Warn("pruned dead connections during broadcast",
			"tenant_id", tenantID,
			"event", event,
			"pruned", len(dead),
		)
	}
	return sent
}

// SendToUser writes an event to a single connection. Returns false when no
// connection exists or the write fails (the connection is pruned).
func (r *Registry) SendToUser(tenantID, userID, event string, data any) bool {
	frame, err := formatEvent(nextEventID(r.now()), event, data)
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.tenants[tenantID][userID]
	if !ok {
		return false
	}
	if err := conn.stream.Write(frame); err != nil {
		r.removeLocked(tenantID, userID, "write_failed")
		return false
	}
	return true
}

// Heartbeat writes a comment-only keep-alive frame to every connection and
// reaps any whose transport died silently. Returns the number of pruned
// connections.
func (r *Registry) Heartbeat() int {
	now := r.now()
	frame := formatHeartbeat(now)

	r.mu.Lock()
	pruned := 0
	for tenantID, users := range r.tenants {
		var dead []string
		for userID, conn := range users {
			if err := conn.stream.Write(frame); err != nil {
				dead = append(dead, userID)
				continue
			}
			conn.lastHeartbeatAt = now
		}
		for _, userID := range dead {
			r.removeLocked(tenantID, userID, "heartbeat_failed")
			pruned++
		}
	}
	total := r.totalLocked()
	r.mu.Unlock()

	setConnectionCount(total)
	if pruned > 0 {
		slog.Info("heartbeat pruned dead connections", "pruned", pruned, "total_connections", total)
	}
	return pruned
}

// Stats reports the total connection count and per-tenant counts.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	PerTenant        map[string]int `json:"per_tenant"`
}

// Stats returns a snapshot of registry occupancy.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{PerTenant: make(map[string]int, len(r.tenants))}
	for tenantID, users := range r.tenants {
		stats.PerTenant[tenantID] = len(users)
		stats.TotalConnections += len(users)
	}
	return stats
}

// CloseAll closes every live stream and empties the registry. Invoked on
// process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	closed := 0
	for tenantID, users := range r.tenants {
		for userID, conn := range users {
			_ = conn.stream.Close()
			recordConnectionClosed(tenantID, "shutdown")
			delete(users, userID)
			closed++
		}
		delete(r.tenants, tenantID)
	}
	r.mu.Unlock()

	setConnectionCount(0)
	if closed > 0 {
		slog.Info("closed all live connections", "count", closed)
	}
}

// totalLocked counts connections. Caller holds r.mu.
func (r *Registry) totalLocked() int {
	total := 0
	for _, users := range r.tenants {
		total += len(users)
	}
	return total
}
