package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/testutil"
	"github.com/pantrywatch/pantrywatch/migrations"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := migrations.Run(container.ConnectionString); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgxpool.New(ctx, container.ConnectionString)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func newNotification(tenantID, recipientID string) *domain.Notification {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Notification{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		RecipientID: recipientID,
		Type:        domain.NotificationExpiryWarning,
		Title:       "Milk expires soon",
		Message:     "2 l of Milk expires in 5 days.",
		Data:        map[string]string{"lot_id": "lot-1", "product_name": "Milk"},
		Channels:    []domain.Channel{domain.ChannelApp},
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusDelivered,
		CreatedAt:   now,
		DeliveredAt: &now,
	}
}

func TestRepository_SaveUpsertsByID(t *testing.T) {
	skipShort(t)
	repo := NewRepository(testDB)
	ctx := context.Background()

	n := newNotification("hotel-upsert", "user-1")
	n.Status = domain.StatusPending
	n.DeliveredAt = nil
	require.NoError(t, repo.Save(ctx, n))

	// Second save with a new status updates the same row.
	n.Status = domain.StatusDelivered
	now := time.Now().UTC()
	n.DeliveredAt = &now
	n.LastError = "chat: bot unreachable"
	require.NoError(t, repo.Save(ctx, n))

	items, err := repo.ListForRecipient(ctx, "user-1", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, "chat: bot unreachable", got.LastError)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, map[string]string{"lot_id": "lot-1", "product_name": "Milk"}, got.Data)
	assert.Equal(t, []domain.Channel{domain.ChannelApp}, got.Channels)
}

func TestRepository_ListForRecipientNewestFirst(t *testing.T) {
	skipShort(t)
	repo := NewRepository(testDB)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		n := newNotification("hotel-list", "user-list")
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Save(ctx, n))
		ids = append(ids, n.ID)
	}

	items, err := repo.ListForRecipient(ctx, "user-list", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, ids[2], items[0].ID, "newest first")
	assert.Equal(t, ids[0], items[2].ID)

	// Cursor excludes older records.
	items, err = repo.ListForRecipient(ctx, "user-list", 10, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Limit caps the result.
	items, err = repo.ListForRecipient(ctx, "user-list", 1, time.Time{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRepository_ListForRecipientScopesToDeliveredAppChannel(t *testing.T) {
	skipShort(t)
	repo := NewRepository(testDB)
	ctx := context.Background()

	delivered := newNotification("hotel-scope", "user-scope")
	delivered.Channels = []domain.Channel{domain.ChannelApp, domain.ChannelChat}
	require.NoError(t, repo.Save(ctx, delivered))

	// Still retrying: invisible to the recipient until it lands.
	retrying := newNotification("hotel-scope", "user-scope")
	retrying.Status = domain.StatusRetry
	retrying.DeliveredAt = nil
	retrying.RetryCount = 1
	retrying.LastError = "chat: bot unreachable"
	require.NoError(t, repo.Save(ctx, retrying))

	// Delivered but chat-only: never part of the in-app list.
	chatOnly := newNotification("hotel-scope", "user-scope")
	chatOnly.Channels = []domain.Channel{domain.ChannelChat}
	require.NoError(t, repo.Save(ctx, chatOnly))

	failed := newNotification("hotel-scope", "user-scope")
	failed.Status = domain.StatusFailed
	failed.DeliveredAt = nil
	require.NoError(t, repo.Save(ctx, failed))

	items, err := repo.ListForRecipient(ctx, "user-scope", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, delivered.ID, items[0].ID)
}

func TestRepository_MarkAsRead(t *testing.T) {
	skipShort(t)
	repo := NewRepository(testDB)
	ctx := context.Background()

	n := newNotification("hotel-read", "user-owner")
	require.NoError(t, repo.Save(ctx, n))

	marked, err := repo.MarkAsRead(ctx, n.ID, "user-owner", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, marked)

	// Foreign recipient never marks someone else's record.
	marked, err = repo.MarkAsRead(ctx, n.ID, "user-intruder", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, marked)

	// Unknown id is a no-op, not an error.
	marked, err = repo.MarkAsRead(ctx, uuid.NewString(), "user-owner", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, marked)

	items, err := repo.ListForRecipient(ctx, "user-owner", 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].ReadAt)
}

func TestRepository_CountCreatedSince(t *testing.T) {
	skipShort(t)
	repo := NewRepository(testDB)
	ctx := context.Background()

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	n := newNotification("hotel-dedup", "user-1")
	n.Type = domain.NotificationExpired
	n.Data["lot_id"] = "lot-dedup"
	require.NoError(t, repo.Save(ctx, n))

	count, err := repo.CountCreatedSince(ctx, "hotel-dedup", "lot-dedup", domain.NotificationExpired, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Different type, lot, or tenant does not match.
	count, err = repo.CountCreatedSince(ctx, "hotel-dedup", "lot-dedup", domain.NotificationExpiryWarning, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = repo.CountCreatedSince(ctx, "hotel-dedup", "lot-other", domain.NotificationExpired, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = repo.CountCreatedSince(ctx, "hotel-other", "lot-dedup", domain.NotificationExpired, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// A cutoff after creation excludes the record.
	count, err = repo.CountCreatedSince(ctx, "hotel-dedup", "lot-dedup", domain.NotificationExpired, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
