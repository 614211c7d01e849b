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

	"github.com/bissquit/cutover-garden/internal/config"
	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/escalation"
	escalationpostgres "github.com/bissquit/cutover-garden/internal/escalation/postgres"
	"github.com/bissquit/cutover-garden/internal/incidents"
	incidentspostgres "github.com/bissquit/cutover-garden/internal/incidents/postgres"
	"github.com/bissquit/cutover-garden/internal/live"
	"github.com/bissquit/cutover-garden/internal/notifications"
	"github.com/bissquit/cutover-garden/internal/notifications/mattermost"
	"github.com/bissquit/cutover-garden/internal/notifications/slack"
	"github.com/bissquit/cutover-garden/internal/pkg/clock"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/httputil"
	"github.com/bissquit/cutover-garden/internal/pkg/jwtauth"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
	"github.com/bissquit/cutover-garden/internal/pkg/postgres"
	"github.com/bissquit/cutover-garden/internal/runbook"
	runbookpostgres "github.com/bissquit/cutover-garden/internal/runbook/postgres"
	"github.com/bissquit/cutover-garden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config             *config.Config
	logger             *slog.Logger
	db                 *pgxpool.Pool
	redis              *redis.Client
	auth               *jwtauth.Authenticator
	server             *http.Server
	metricsServer      *http.Server
	backgroundCancel   context.CancelFunc
	notificationWorker *notifications.Worker
	sweeper            *live.Sweeper
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := InitLogger(cfg.Log)
	slog.SetDefault(logger)

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

	auth, err := jwtauth.New(jwtauth.Config{
		SecretKey:     cfg.JWT.SecretKey,
		TokenDuration: cfg.JWT.TokenDuration,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:           cfg,
		logger:           logger,
		db:               db,
		auth:             auth,
		backgroundCancel: backgroundCancel,
	}

	if cfg.Redis.URL != "" {
		app.redis, err = escalation.NewRedisClient(connectCtx, cfg.Redis.URL)
		if err != nil {
			db.Close()
			backgroundCancel()
			return nil, err
		}
	}

	if err := metrics.RegisterDBPool(db); err != nil {
		app.closeStores()
		backgroundCancel()
		return nil, fmt.Errorf("register db metrics: %w", err)
	}

	router, err := app.setupRouter(backgroundCtx)
	if err != nil {
		app.closeStores()
		backgroundCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
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
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.backgroundCancel()

	// Background jobs first so nothing writes after the pool closes.
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

	// Shutdown both servers in parallel
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

	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			err = fmt.Errorf("close redis: %w", cerr)
		}
	}
	a.db.Close()
	return err
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Authenticator returns the token issuer. Used by tests and the token command.
func (a *App) Authenticator() *jwtauth.Authenticator {
	return a.auth
}

// NotificationWorker returns the notification worker instance.
// Returns nil if notifications are disabled.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
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
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	clk := clock.Real{}

	runbookService := runbook.NewService(runbookpostgres.NewRepository(a.db), clk, a.config.Runbook.HypercareWeeks)
	incidentsService := incidents.NewService(
		incidentspostgres.NewRepository(a.db),
		clk,
		incidents.NewDeadlineCalculator(nil),
	)

	notifier, err := a.setupNotifications(ctx)
	if err != nil {
		return nil, err
	}

	engine := escalation.NewEngine(
		escalationpostgres.NewRepository(a.db),
		a.newLocker(),
		notifier,
		clk,
		escalation.Config{
			RuleCacheTTL: a.config.Escalation.RuleCacheTTL,
			Shared:       a.redis != nil,
		},
	)
	liveService := live.NewService(runbookService, incidentsService, engine, clk)

	if interval := a.config.Escalation.SweepInterval; interval > 0 {
		a.sweeper = live.NewSweeper(interval, runbookService, incidentsService, engine)
		a.sweeper.Start(ctx)
	}

	runbookHandler := runbook.NewHandler(runbookService)
	incidentsHandler := incidents.NewHandler(incidentsService)
	escalationHandler := escalation.NewHandler(engine)
	liveHandler := live.NewHandler(liveService)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(a.auth))

		runbookHandler.RegisterRoutes(r)
		incidentsHandler.RegisterRoutes(r)
		escalationHandler.RegisterRoutes(r)
		liveHandler.RegisterRoutes(r)
	})

	return r, nil
}

// newLocker returns the Redis locker when Redis is configured, else an
// in-process one.
func (a *App) newLocker() escalation.Locker {
	if a.redis == nil {
		slog.Info("escalation locks are in-process; run a single replica")
		return escalation.NewLocalLocker()
	}
	return escalation.NewRedisLocker(a.redis, escalation.RedisLockerConfig{
		TTL:        a.config.Redis.LockTTL,
		Attempts:   a.config.Redis.LockAttempts,
		RetryDelay: a.config.Redis.LockRetryDelay,
	})
}

// setupNotifications starts the delivery worker. A nil notifier means
// escalation events are recorded without notices.
func (a *App) setupNotifications(ctx context.Context) (escalation.Notifier, error) {
	cfg := a.config.Notifications

	slog.Info("notifications configured",
		"enabled", cfg.Enabled,
		"mattermost_webhook", cfg.Mattermost.WebhookURL != "",
		"slack_enabled", cfg.Slack.Enabled,
	)

	if !cfg.Enabled {
		return nil, nil
	}

	// Mattermost is always available: a target may carry its own webhook URL.
	senders := []notifications.Sender{
		mattermost.NewSender(mattermost.Config{
			WebhookURL:      cfg.Mattermost.WebhookURL,
			DefaultUsername: cfg.Mattermost.Username,
			DefaultIconURL:  cfg.Mattermost.IconURL,
			Timeout:         cfg.Mattermost.Timeout,
		}),
	}
	if cfg.Slack.Enabled {
		senders = append(senders, slack.NewSender(slack.Config{
			BotToken: cfg.Slack.BotToken,
			APIURL:   cfg.Slack.APIURL,
		}))
	} else {
		slog.Warn("slack sender is disabled: rules routed to slack will not notify")
	}

	dispatcher := notifications.NewDispatcher(notifications.DispatcherConfig{
		RateLimit:          cfg.RateLimit,
		MaxAttempts:        cfg.Retry.MaxAttempts,
		InitialBackoff:     cfg.Retry.InitialBackoff,
		MaxBackoff:         cfg.Retry.MaxBackoff,
		BackoffMultiplier:  cfg.Retry.BackoffMultiplier,
		BreakerFailures:    cfg.Breaker.ConsecutiveFailures,
		BreakerOpenTimeout: cfg.Breaker.OpenTimeout,
	}, senders...)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	queue := notifications.NewQueue(cfg.QueueSize)

	workerConfig := notifications.DefaultWorkerConfig()
	workerConfig.NumWorkers = cfg.NumWorkers
	a.notificationWorker = notifications.NewWorker(workerConfig, queue, dispatcher, renderer)
	a.notificationWorker.Start(ctx)

	return notifications.NewNotifier(notifications.NotifierConfig{
		DefaultChannel: domain.ChannelType(cfg.DefaultChannel),
		DefaultTarget:  cfg.DefaultTarget,
		BaseURL:        cfg.BaseURL,
	}, queue, dispatcher), nil
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

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

// InitLogger builds the process logger from config.
func InitLogger(cfg config.LogConfig) *slog.Logger {
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
