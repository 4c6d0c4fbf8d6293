package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Store persists notification snapshots. Persistence is best-effort: the
// queue logs store errors and keeps processing the in-memory copy.
type Store interface {
	// Save upserts the record by id.
	Save(ctx context.Context, n *domain.Notification) error
	// ListForRecipient returns delivered app-channel notifications for a
	// recipient, newest first, capped at limit. A zero since means no cursor.
	ListForRecipient(ctx context.Context, recipientID string, limit int, since time.Time) ([]domain.Notification, error)
	// MarkAsRead stamps a read timestamp. Returns false without error when
	// the record does not exist or belongs to another recipient.
	MarkAsRead(ctx context.Context, id, recipientID string, readAt time.Time) (bool, error)
	// CountCreatedSince counts notifications for a (tenant, lot, type)
	// triple created at or after the given instant. Used for daily
	// deduplication of scheduler-generated alerts.
	CountCreatedSince(ctx context.Context, tenantID, lotID string, typ domain.NotificationType, since time.Time) (int, error)
}

// QueueConfig contains queue tuning.
type QueueConfig struct {
	MaxRetries    int
	BackoffDelays []time.Duration
	DrainInterval time.Duration
	SendTimeout   time.Duration
}

// DefaultQueueConfig returns the reference configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries:    3,
		BackoffDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		DrainInterval: 2 * time.Second,
		SendTimeout:   15 * time.Second,
	}
}

// Queue holds pending notifications in memory and drives them through the
// registered channel senders. FIFO at the granularity of "ready to attempt";
// retried items re-enter at the back once their backoff elapses.
type Queue struct {
	config  QueueConfig
	store   Store
	senders map[domain.Channel]Sender

	mu    sync.Mutex
	items []*domain.Notification

	wake chan struct{}

	// schedule defers fn by d. Swapped in tests so retry/backoff policy is
	// verifiable without wall-clock sleeps.
	schedule func(d time.Duration, fn func())
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewQueue creates a notification queue with the given channel senders.
func NewQueue(config QueueConfig, store Store, senders ...Sender) *Queue {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if len(config.BackoffDelays) == 0 {
		config.BackoffDelays = DefaultQueueConfig().BackoffDelays
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = DefaultQueueConfig().DrainInterval
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultQueueConfig().SendTimeout
	}

	senderMap := make(map[domain.Channel]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Channel()] = s
	}

	return &Queue{
		config:  config,
		store:   store,
		senders: senderMap,
		wake:    make(chan struct{}, 1),
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start launches the drain loop.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.drain(ctx)
	slog.Info("notification queue started",
		"max_retries", q.config.MaxRetries,
		"drain_interval", q.config.DrainInterval,
	)
}

// Stop halts the drain loop. In-flight work finishes; queued items stay in
// memory and are lost on process exit (best-effort queue by design).
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
	slog.Info("notification queue stopped", "remaining", q.Len())
}

// CreateInput describes a notification to enqueue.
type CreateInput struct {
	TenantID    string
	RecipientID string
	Type        domain.NotificationType
	Title       string
	Message     string
	Data        map[string]string
	Channels    []domain.Channel
	Priority    domain.Priority
}

// Create validates the input, persists a snapshot and enqueues the
// notification. High and urgent priorities wake the drain loop immediately
// instead of waiting for the next tick.
func (q *Queue) Create(ctx context.Context, input CreateInput) (*domain.Notification, error) {
	select {
	case <-q.stopCh:
		return nil, ErrQueueStopped
	default:
	}

	if len(input.Channels) == 0 {
		return nil, ErrNoChannels
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	n := &domain.Notification{
		ID:          uuid.NewString(),
		TenantID:    input.TenantID,
		RecipientID: input.RecipientID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Data:        input.Data,
		Channels:    input.Channels,
		Priority:    priority,
		Status:      domain.StatusPending,
		CreatedAt:   q.now(),
	}

	q.persist(ctx, n)

	n.Status = domain.StatusQueued
	q.enqueue(n)

	if priority.AtLeast(domain.PriorityHigh) {
		q.nudge()
	}

	slog.Debug("notification created",
		"id", n.ID,
		"tenant_id", n.TenantID,
		"type", n.Type,
		"priority", n.Priority,
		"channels", n.Channels,
	)
	return n, nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ListForRecipient is the read path for app-channel notifications.
func (q *Queue) ListForRecipient(ctx context.Context, recipientID string, limit int, since time.Time) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return q.store.ListForRecipient(ctx, recipientID, limit, since)
}

// MarkAsRead stamps a read timestamp on the recipient's own notification.
// A foreign or unknown id is a silent no-op.
func (q *Queue) MarkAsRead(ctx context.Context, id, recipientID string) error {
	marked, err := q.store.MarkAsRead(ctx, id, recipientID, q.now())
	if err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}
	if !marked {
		slog.Debug("mark as read skipped", "id", id, "recipient_id", recipientID)
	}
	return nil
}

// drain processes one item per pass, re-waking itself while work remains so
// a long queue never monopolizes the scheduler over other goroutines.
func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.wake:
		case <-ticker.C:
		}

		if q.ProcessNext(ctx) && q.Len() > 0 {
			q.nudge()
		}
	}
}

// ProcessNext pops the queue head and attempts delivery on every channel.
// Returns false when the queue was empty.
func (q *Queue) ProcessNext(ctx context.Context) bool {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	n := q.items[0]
	q.items = q.items[1:]
	setQueueDepth(len(q.items))
	q.mu.Unlock()

	n.Status = domain.StatusSending
	q.persist(ctx, n)

	results := q.Send(ctx, n)
	q.resolve(ctx, n, results)
	return true
}

// Send attempts delivery on every channel in the notification's channel set.
// One channel's failure or panic never aborts the others.
func (q *Queue) Send(ctx context.Context, n *domain.Notification) map[domain.Channel]domain.DeliveryResult {
	results := make(map[domain.Channel]domain.DeliveryResult, len(n.Channels))
	for _, ch := range n.Channels {
		results[ch] = q.sendOne(ctx, ch, n)
	}
	return results
}

func (q *Queue) sendOne(ctx context.Context, ch domain.Channel, n *domain.Notification) (result domain.DeliveryResult) {
	result = domain.DeliveryResult{Channel: ch, Success: true}

	defer func() {
		if r := recover(); r != nil {
			result = domain.DeliveryResult{
				Channel: ch,
				Success: false,
				Err:     fmt.Errorf("sender panic: %v", r),
			}
			slog.Error("channel sender panicked", "channel", ch, "panic", r)
		}
	}()

	sender, ok := q.senders[ch]
	if !ok {
		recordChannelAttempt(string(ch), "no_sender")
		return domain.DeliveryResult{Channel: ch, Success: false, Err: fmt.Errorf("%w: %s", ErrChannelNotConfigured, ch)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.config.SendTimeout)
	defer cancel()

	start := q.now()
	err := sender.Send(sendCtx, n)
	recordChannelDuration(string(ch), time.Since(start))

	if err != nil {
		recordChannelAttempt(string(ch), "failed")
		return domain.DeliveryResult{Channel: ch, Success: false, Err: err}
	}

	recordChannelAttempt(string(ch), "success")
	return result
}

// resolve applies the delivery decision rule and persists the transition.
func (q *Queue) resolve(ctx context.Context, n *domain.Notification, results map[domain.Channel]domain.DeliveryResult) {
	succeeded := 0
	var failures []string
	for _, res := range results {
		if res.Success {
			succeeded++
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %v", res.Channel, res.Err))
	}

	switch {
	case len(failures) == 0:
		q.markDelivered(ctx, n, "")

	case succeeded > 0:
		// Partial success counts as delivered: at least one channel reached
		// the user. Failures are kept for diagnostics, no retry.
		q.markDelivered(ctx, n, strings.Join(failures, "; "))

	case n.RetryCount < q.config.MaxRetries:
		n.RetryCount++
		n.Status = domain.StatusRetry
		n.LastError = strings.Join(failures, "; ")
		q.persist(ctx, n)

		delay := q.backoffDelay(n.RetryCount)
		slog.Warn("notification delivery failed, scheduling retry",
			"id", n.ID,
			"retry_count", n.RetryCount,
			"max_retries", q.config.MaxRetries,
			"delay", delay,
			"error", n.LastError,
		)
		recordOutcome("retry")

		q.schedule(delay, func() { q.requeue(n) })

	default:
		n.Status = domain.StatusFailed
		n.LastError = strings.Join(failures, "; ")
		q.persist(ctx, n)
		recordOutcome("failed")
		slog.Error("notification delivery failed permanently",
			"id", n.ID,
			"retry_count", n.RetryCount,
			"error", n.LastError,
		)
	}
}

func (q *Queue) markDelivered(ctx context.Context, n *domain.Notification, failureNote string) {
	now := q.now()
	n.Status = domain.StatusDelivered
	n.DeliveredAt = &now
	n.LastError = failureNote
	q.persist(ctx, n)
	recordOutcome("delivered")

	slog.Debug("notification delivered", "id", n.ID, "partial_failures", failureNote != "")
}

// backoffDelay returns the delay before the given retry attempt (1-based).
// Attempts beyond the table reuse the last entry.
func (q *Queue) backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(q.config.BackoffDelays) {
		idx = len(q.config.BackoffDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return q.config.BackoffDelays[idx]
}

// requeue re-inserts a retry item at the back of the queue once its backoff
// has elapsed. Terminal records are never re-enqueued.
func (q *Queue) requeue(n *domain.Notification) {
	if n.Status.Terminal() {
		return
	}

	select {
	case <-q.stopCh:
		return
	default:
	}

	n.Status = domain.StatusQueued
	q.enqueue(n)
	q.nudge()
}

func (q *Queue) enqueue(n *domain.Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	setQueueDepth(len(q.items))
	q.mu.Unlock()
}

// nudge wakes the drain loop without blocking; a pending wake is enough.
func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// persist saves a snapshot, logging and swallowing store errors. Durability
// is best-effort; the in-memory copy keeps processing either way.
func (q *Queue) persist(ctx context.Context, n *domain.Notification) {
	if err := q.store.Save(ctx, n); err != nil {
		slog.Warn("failed to persist notification, continuing in memory",
			"id", n.ID,
			"status", n.Status,
			"error", err,
		)
	}
}
