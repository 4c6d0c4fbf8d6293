// Package scheduler runs the daily expiry scan: it discovers inventory lots
// that are expired or about to expire, pushes live broadcasts to connected
// dashboards, and feeds the durable notification pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/notifications"
)

// ErrAlreadyRunning is returned by Start when the scheduler loop is active.
var ErrAlreadyRunning = errors.New("scheduler already running")

// InventorySource reads inventory state for the scan. Methods are scoped to
// one tenant so a failing tenant read never poisons the others.
type InventorySource interface {
	Tenants(ctx context.Context) ([]string, error)
	ExpiredLots(ctx context.Context, tenantID string) ([]domain.Lot, error)
	LotsExpiringWithin(ctx context.Context, tenantID string, days int) ([]domain.Lot, error)
}

// Broadcaster fans an event out to a tenant's live connections.
type Broadcaster interface {
	Broadcast(tenantID, event string, data any) int
}

// Config holds scheduler tuning.
type Config struct {
	// RunAt is the daily fire time, "HH:MM" in Timezone.
	RunAt string
	// Timezone is one fixed deployment-wide IANA zone name.
	Timezone string
	// CriticalDays is the short lookahead window (critical bucket).
	CriticalDays int
	// WarningDays is the long lookahead window (warning bucket).
	WarningDays int
	// SampleSize caps per-bucket lot samples in broadcasts.
	SampleSize int
}

// DefaultConfig returns the reference configuration: 07:00 UTC, 3-day
// critical window, 7-day warning window.
func DefaultConfig() Config {
	return Config{
		RunAt:        "07:00",
		Timezone:     "UTC",
		CriticalDays: 3,
		WarningDays:  7,
		SampleSize:   10,
	}
}

// Scheduler fires the expiry scan once per day at the configured local time.
type Scheduler struct {
	config    Config
	inventory InventorySource
	notifier  *notifications.Notifier
	registry  Broadcaster

	location *time.Location
	runHour  int
	runMin   int
	now      func() time.Time

	mu      sync.Mutex
	running bool
	lastRun time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler. Returns an error on an unparseable fire time or
// unknown timezone.
func New(config Config, inventory InventorySource, notifier *notifications.Notifier, registry Broadcaster) (*Scheduler, error) {
	if config.RunAt == "" {
		config.RunAt = "07:00"
	}
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}
	if config.CriticalDays <= 0 {
		config.CriticalDays = 3
	}
	if config.WarningDays <= config.CriticalDays {
		config.WarningDays = DefaultConfig().WarningDays
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 10
	}

	t, err := time.Parse("15:04", config.RunAt)
	if err != nil {
		return nil, fmt.Errorf("parse run_at %q: %w", config.RunAt, err)
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", config.Timezone, err)
	}

	return &Scheduler{
		config:    config,
		inventory: inventory,
		notifier:  notifier,
		registry:  registry,
		location:  location,
		runHour:   t.Hour(),
		runMin:    t.Minute(),
		now:       time.Now,
	}, nil
}

// Start launches the daily loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(stopCh)

	slog.Info("expiry scan scheduler started",
		"run_at", s.config.RunAt,
		"timezone", s.config.Timezone,
		"next_run", s.NextRun().Format(time.RFC3339),
	)
	return nil
}

// Stop halts the daily loop. An in-flight scan finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("expiry scan scheduler stopped")
}

// Restart stops and starts the loop, recomputing the next fire time.
func (s *Scheduler) Restart() error {
	s.Stop()
	return s.Start()
}

// Status is the scheduler's externally visible state.
type Status struct {
	Running bool   `json:"running"`
	RunAt   string `json:"run_at"`
	NextRun string `json:"next_run"`
	LastRun string `json:"last_run,omitempty"`
}

// Status reports whether the loop runs and when it fires next.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	lastRun := s.lastRun
	s.mu.Unlock()

	status := Status{
		Running: running,
		RunAt:   fmt.Sprintf("%s %s", s.config.RunAt, s.config.Timezone),
		NextRun: s.NextRun().Format(time.RFC3339),
	}
	if !lastRun.IsZero() {
		status.LastRun = lastRun.Format(time.RFC3339)
	}
	return status
}

// NextRun returns the next scheduled fire instant.
func (s *Scheduler) NextRun() time.Time {
	now := s.now().In(s.location)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.runHour, s.runMin, 0, 0, s.location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(time.Until(s.NextRun()))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		s.RunScan(ctx)
		cancel()
	}
}

// RunScan executes one full scan over all tenants. A tenant whose inventory
// read fails is logged and skipped; the run is not retried until the next
// scheduled tick.
func (s *Scheduler) RunScan(ctx context.Context) {
	start := s.now()
	s.mu.Lock()
	s.lastRun = start
	s.mu.Unlock()

	tenants, err := s.inventory.Tenants(ctx)
	if err != nil {
		slog.Error("expiry scan failed to list tenants", "error", err)
		recordScanRun("failed", time.Since(start))
		return
	}

	failed := 0
	for _, tenantID := range tenants {
		if err := s.scanTenant(ctx, tenantID); err != nil {
			slog.Error("expiry scan failed for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			failed++
		}
	}

	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	recordScanRun(outcome, time.Since(start))
	slog.Info("expiry scan completed",
		"tenants", len(tenants),
		"failed_tenants", failed,
		"duration", time.Since(start),
	)
}

// scanTenant partitions one tenant's lots into expired/critical/warning
// buckets, broadcasts each non-empty bucket, and creates the per-recipient
// notifications.
func (s *Scheduler) scanTenant(ctx context.Context, tenantID string) error {
	expired, err := s.inventory.ExpiredLots(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("read expired lots: %w", err)
	}

	upcoming, err := s.inventory.LotsExpiringWithin(ctx, tenantID, s.config.WarningDays)
	if err != nil {
		return fmt.Errorf("read expiring lots: %w", err)
	}

	now := s.now()
	var critical, warning []domain.Lot
	for _, lot := range upcoming {
		days := lot.DaysUntilExpiry(now)
		switch {
		case days <= 0:
			// Already in the expired bucket.
		case days <= s.config.CriticalDays:
			critical = append(critical, lot)
		default:
			warning = append(warning, lot)
		}
	}

	s.broadcastBucket(tenantID, "lots_expired", expired)
	s.broadcastBucket(tenantID, "lots_critical", critical)
	s.broadcastBucket(tenantID, "lots_warning", warning)

	if len(expired)+len(critical)+len(warning) > 0 {
		s.registry.Broadcast(tenantID, "stats_changed", map[string]any{
			"expired":  len(expired),
			"critical": len(critical),
			"warning":  len(warning),
		})
	}

	all := make([]domain.Lot, 0, len(expired)+len(critical)+len(warning))
	all = append(all, expired...)
	all = append(all, critical...)
	all = append(all, warning...)
	if len(all) == 0 {
		return nil
	}

	if _, err := s.notifier.CreateExpiryNotifications(ctx, all, tenantID); err != nil {
		return fmt.Errorf("create expiry notifications: %w", err)
	}
	return nil
}

// lotSample is the broadcast wire shape for one lot.
type lotSample struct {
	ID          string `json:"id"`
	ProductName string `json:"product_name"`
	Quantity    string `json:"quantity"`
	ExpiryDate  string `json:"expiry_date"`
}

// broadcastBucket pushes a capped sample plus a total count for one bucket.
// Empty buckets are silent.
func (s *Scheduler) broadcastBucket(tenantID, event string, lots []domain.Lot) {
	if len(lots) == 0 {
		return
	}

	sample := lots
	if len(sample) > s.config.SampleSize {
		sample = sample[:s.config.SampleSize]
	}

	items := make([]lotSample, 0, len(sample))
	for _, lot := range sample {
		items = append(items, lotSample{
			ID:          lot.ID,
			ProductName: lot.ProductName,
			Quantity:    fmt.Sprintf("%g %s", lot.Quantity, lot.Unit),
			ExpiryDate:  lot.ExpiryDate.Format("2006-01-02"),
		})
	}

	sent := s.registry.Broadcast(tenantID, event, map[string]any{
		"count": len(lots),
		"lots":  items,
	})
	slog.Debug("bucket broadcast",
		"tenant_id", tenantID,
		"event", event,
		"count", len(lots),
		"sent", sent,
	)
}
