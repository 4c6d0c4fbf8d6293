package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/notifications"
)

type mockInventory struct {
	tenants     []string
	tenantsErr  error
	expired     map[string][]domain.Lot
	expiring    map[string][]domain.Lot
	expiredErrs map[string]error
}

func (m *mockInventory) Tenants(_ context.Context) ([]string, error) {
	return m.tenants, m.tenantsErr
}

func (m *mockInventory) ExpiredLots(_ context.Context, tenantID string) ([]domain.Lot, error) {
	if err := m.expiredErrs[tenantID]; err != nil {
		return nil, err
	}
	return m.expired[tenantID], nil
}

func (m *mockInventory) LotsExpiringWithin(_ context.Context, tenantID string, _ int) ([]domain.Lot, error) {
	return m.expiring[tenantID], nil
}

type broadcastCall struct {
	tenantID string
	event    string
	data     any
}

type mockBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (m *mockBroadcaster) Broadcast(tenantID, event string, data any) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, broadcastCall{tenantID, event, data})
	return 1
}

func (m *mockBroadcaster) events(tenantID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []string
	for _, c := range m.calls {
		if c.tenantID == tenantID {
			events = append(events, c.event)
		}
	}
	return events
}

type nullStore struct{}

func (nullStore) Save(context.Context, *domain.Notification) error { return nil }
func (nullStore) ListForRecipient(context.Context, string, int, time.Time) ([]domain.Notification, error) {
	return nil, nil
}
func (nullStore) MarkAsRead(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (nullStore) CountCreatedSince(context.Context, string, string, domain.NotificationType, time.Time) (int, error) {
	return 0, nil
}

type staticDirectory struct {
	recipients []domain.Recipient
}

func (d staticDirectory) NotifyTargets(context.Context, string, string) ([]domain.Recipient, error) {
	return d.recipients, nil
}

func newTestScheduler(t *testing.T, inventory InventorySource, broadcaster Broadcaster) (*Scheduler, *notifications.Queue) {
	t.Helper()

	queue := notifications.NewQueue(notifications.DefaultQueueConfig(), nullStore{})
	notifier := notifications.NewNotifier(queue, nullStore{}, staticDirectory{
		recipients: []domain.Recipient{{ID: "admin-1", Role: domain.RoleHotelAdmin}},
	}, time.UTC)

	s, err := New(DefaultConfig(), inventory, notifier, broadcaster)
	require.NoError(t, err)
	return s, queue
}

func lotExpiring(id, tenantID string, daysFromNow int) domain.Lot {
	return domain.Lot{
		ID:           id,
		TenantID:     tenantID,
		DepartmentID: "kitchen",
		ProductName:  "Milk",
		Quantity:     1,
		Unit:         "l",
		ExpiryDate:   time.Now().AddDate(0, 0, daysFromNow),
	}
}

func TestScheduler_RunScanBucketsAndBroadcasts(t *testing.T) {
	inventory := &mockInventory{
		tenants: []string{"hotel-1"},
		expired: map[string][]domain.Lot{
			"hotel-1": {lotExpiring("lot-exp", "hotel-1", -2)},
		},
		expiring: map[string][]domain.Lot{
			"hotel-1": {
				lotExpiring("lot-crit", "hotel-1", 2),
				lotExpiring("lot-warn", "hotel-1", 5),
			},
		},
	}
	broadcaster := &mockBroadcaster{}
	s, queue := newTestScheduler(t, inventory, broadcaster)

	s.RunScan(context.Background())

	events := broadcaster.events("hotel-1")
	assert.Equal(t, []string{"lots_expired", "lots_critical", "lots_warning", "stats_changed"}, events)

	// One recipient, three lots: three notifications enqueued.
	assert.Equal(t, 3, queue.Len())
}

func TestScheduler_EmptyBucketsAreSilent(t *testing.T) {
	inventory := &mockInventory{
		tenants: []string{"hotel-1"},
		expired: map[string][]domain.Lot{
			"hotel-1": {lotExpiring("lot-exp", "hotel-1", -1)},
		},
	}
	broadcaster := &mockBroadcaster{}
	s, _ := newTestScheduler(t, inventory, broadcaster)

	s.RunScan(context.Background())

	events := broadcaster.events("hotel-1")
	assert.Equal(t, []string{"lots_expired", "stats_changed"}, events)
}

func TestScheduler_NothingToReportNoBroadcast(t *testing.T) {
	inventory := &mockInventory{tenants: []string{"hotel-1"}}
	broadcaster := &mockBroadcaster{}
	s, queue := newTestScheduler(t, inventory, broadcaster)

	s.RunScan(context.Background())

	assert.Empty(t, broadcaster.calls)
	assert.Equal(t, 0, queue.Len())
}

func TestScheduler_TenantFailureDoesNotBlockOthers(t *testing.T) {
	inventory := &mockInventory{
		tenants:     []string{"hotel-bad", "hotel-good"},
		expiredErrs: map[string]error{"hotel-bad": errors.New("inventory down")},
		expired: map[string][]domain.Lot{
			"hotel-good": {lotExpiring("lot-1", "hotel-good", -1)},
		},
	}
	broadcaster := &mockBroadcaster{}
	s, _ := newTestScheduler(t, inventory, broadcaster)

	s.RunScan(context.Background())

	assert.Empty(t, broadcaster.events("hotel-bad"))
	assert.Equal(t, []string{"lots_expired", "stats_changed"}, broadcaster.events("hotel-good"))
}

func TestScheduler_BroadcastSampleIsCapped(t *testing.T) {
	lots := make([]domain.Lot, 0, 15)
	for i := 0; i < 15; i++ {
		lots = append(lots, lotExpiring("lot", "hotel-1", -1))
	}
	inventory := &mockInventory{
		tenants: []string{"hotel-1"},
		expired: map[string][]domain.Lot{"hotel-1": lots},
	}
	broadcaster := &mockBroadcaster{}
	s, _ := newTestScheduler(t, inventory, broadcaster)

	s.RunScan(context.Background())

	require.NotEmpty(t, broadcaster.calls)
	payload, ok := broadcaster.calls[0].data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 15, payload["count"])
	samples, ok := payload["lots"].([]lotSample)
	require.True(t, ok)
	assert.Len(t, samples, 10)
}

func TestScheduler_NextRun(t *testing.T) {
	inventory := &mockInventory{}
	s, _ := newTestScheduler(t, inventory, &mockBroadcaster{})

	t.Run("before fire time runs today", func(t *testing.T) {
		s.now = func() time.Time {
			return time.Date(2026, 3, 14, 5, 0, 0, 0, time.UTC)
		}
		assert.Equal(t, time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC), s.NextRun())
	})

	t.Run("after fire time rolls to tomorrow", func(t *testing.T) {
		s.now = func() time.Time {
			return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		}
		assert.Equal(t, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), s.NextRun())
	})

	t.Run("exactly at fire time rolls to tomorrow", func(t *testing.T) {
		s.now = func() time.Time {
			return time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
		}
		assert.Equal(t, time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC), s.NextRun())
	})
}

func TestScheduler_StartStopStatus(t *testing.T) {
	s, _ := newTestScheduler(t, &mockInventory{}, &mockBroadcaster{})

	require.NoError(t, s.Start())
	assert.True(t, s.Status().Running)
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)

	s.Stop()
	assert.False(t, s.Status().Running)
	s.Stop() // idempotent

	require.NoError(t, s.Restart())
	assert.True(t, s.Status().Running)
	s.Stop()
}

func TestNew_InvalidConfig(t *testing.T) {
	notifier := notifications.NewNotifier(nil, nullStore{}, staticDirectory{}, time.UTC)

	t.Run("bad run_at", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RunAt = "25:99"
		_, err := New(cfg, &mockInventory{}, notifier, &mockBroadcaster{})
		assert.Error(t, err)
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Timezone = "Mars/Olympus"
		_, err := New(cfg, &mockInventory{}, notifier, &mockBroadcaster{})
		assert.Error(t, err)
	})
}
