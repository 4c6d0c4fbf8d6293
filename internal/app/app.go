// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pantrywatch/pantrywatch/internal/auth"
	"github.com/pantrywatch/pantrywatch/internal/config"
	directorypostgres "github.com/pantrywatch/pantrywatch/internal/directory/postgres"
	"github.com/pantrywatch/pantrywatch/internal/domain"
	inventorypostgres "github.com/pantrywatch/pantrywatch/internal/inventory/postgres"
	"github.com/pantrywatch/pantrywatch/internal/notifications"
	appchannel "github.com/pantrywatch/pantrywatch/internal/notifications/app"
	"github.com/pantrywatch/pantrywatch/internal/notifications/chat"
	"github.com/pantrywatch/pantrywatch/internal/notifications/email"
	notificationspostgres "github.com/pantrywatch/pantrywatch/internal/notifications/postgres"
	"github.com/pantrywatch/pantrywatch/internal/pkg/ctxlog"
	"github.com/pantrywatch/pantrywatch/internal/pkg/httputil"
	"github.com/pantrywatch/pantrywatch/internal/pkg/metrics"
	"github.com/pantrywatch/pantrywatch/internal/pkg/postgres"
	"github.com/pantrywatch/pantrywatch/internal/realtime"
	"github.com/pantrywatch/pantrywatch/internal/scheduler"
	"github.com/pantrywatch/pantrywatch/internal/version"
	"github.com/pantrywatch/pantrywatch/migrations"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	registry  *realtime.Registry
	queue     *notifications.Queue
	scheduler *scheduler.Scheduler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.Migrate {
		if err := migrations.Run(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		// SSE streams are long-lived writes; the write deadline must not
		// apply or every stream dies after WriteTimeout.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. The registry closes every
// live stream first, which unblocks the SSE handlers the HTTP shutdown then
// waits on.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.queue != nil {
		a.queue.Stop()
	}
	if a.registry != nil {
		a.registry.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Queue returns the notification queue instance. Used in tests.
func (a *App) Queue() *notifications.Queue {
	return a.queue
}

// Registry returns the connection registry instance. Used in tests.
func (a *App) Registry() *realtime.Registry {
	return a.registry
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	a.registry = realtime.NewRegistry(a.config.Realtime.HeartbeatInterval)
	a.registry.Start()

	store := notificationspostgres.NewRepository(a.db)
	directory := directorypostgres.NewRepository(a.db)

	chatSender, err := chat.NewSender(chat.Config{
		Enabled:   a.config.Notifications.Chat.Enabled,
		BotURL:    a.config.Notifications.Chat.BotURL,
		BotToken:  a.config.Notifications.Chat.BotToken,
		RateLimit: a.config.Notifications.Chat.RateLimit,
		Timeout:   a.config.Notifications.Chat.Timeout,
	}, directory)
	if err != nil {
		return nil, fmt.Errorf("create chat sender: %w", err)
	}
	if !a.config.Notifications.Chat.Enabled {
		slog.Warn("chat sender is disabled: chat deliveries will fail and exhaust retries")
	}

	queueConfig := notifications.DefaultQueueConfig()
	queueConfig.MaxRetries = a.config.Notifications.MaxRetries
	queueConfig.DrainInterval = a.config.Notifications.DrainInterval
	queueConfig.SendTimeout = a.config.Notifications.SendTimeout

	a.queue = notifications.NewQueue(queueConfig, store,
		appchannel.NewSender(),
		chatSender,
		email.NewSender(),
	)
	a.queue.Start(ctx)

	go a.collectQueueMetrics(ctx)

	// The dedup day boundary must roll over at the same midnight the scan
	// scheduler fires in.
	schedulerLocation, err := time.LoadLocation(a.config.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone: %w", err)
	}
	notifier := notifications.NewNotifier(a.queue, store, directory, schedulerLocation)

	inventory := inventorypostgres.NewRepository(a.db)
	a.scheduler, err = scheduler.New(scheduler.Config{
		RunAt:        a.config.Scheduler.RunAt,
		Timezone:     a.config.Scheduler.Timezone,
		CriticalDays: a.config.Scheduler.CriticalDays,
		WarningDays:  a.config.Scheduler.WarningDays,
	}, inventory, notifier, a.registry)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if a.config.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		slog.Warn("expiry scan scheduler is disabled")
	}

	authenticator := auth.NewAuthenticator(a.config.JWT.SecretKey)

	realtimeHandler := realtime.NewHandler(a.registry, authenticator)
	notificationsHandler := notifications.NewHandler(a.queue)
	schedulerHandler := scheduler.NewHandler(a.scheduler)

	r.Route("/api/v1", func(r chi.Router) {
		// The stream endpoint authenticates itself: EventSource cannot set
		// headers, so the token arrives as a query parameter.
		realtimeHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(authenticator))
			r.Use(middleware.Timeout(60 * time.Second))

			notificationsHandler.RegisterRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleHotelAdmin))
				realtimeHandler.RegisterAdminRoutes(r)
				notificationsHandler.RegisterAdminRoutes(r)
				schedulerHandler.RegisterRoutes(r)
			})
		})
	})

	return r, nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			notifications.RecordQueueStats(a.queue.Len())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
