package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/internal/platform/middleware"
	"github.com/medibook/medibook/internal/platform/session"
	"github.com/medibook/medibook/internal/platform/webhook"
	"github.com/medibook/medibook/internal/platform/websocket"
)

const version = "0.1.0"

// app holds the long-lived collaborators of a running server.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	bus      *events.Bus
	hub      *websocket.Hub
	sessions *session.Registry
	svc      *scheduling.Service
}

// newApp connects the store and starts the event fan-out. The hub runs until
// ctx is cancelled.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, inMemory bool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      events.NewBus(logger),
		hub:      websocket.NewHub(logger),
		sessions: session.NewRegistry(cfg.SessionIdleTimeout, logger),
	}

	// Store
	if inMemory {
		store := scheduling.NewMemoryStore()
		a.svc = scheduling.NewService(store.Slots(), store.Appointments(), store, a.bus, logger, loc)
		logger.Info().Msg("using in-memory store")
	} else {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Schema:   cfg.DBSchema,
		})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.svc = scheduling.NewService(
			scheduling.NewSlotRepoPG(pool),
			scheduling.NewAppointmentRepoPG(pool),
			db.PoolTxRunner{Pool: pool},
			a.bus, logger, loc,
		)
		logger.Info().Msg("connected to database")
	}

	go a.hub.Run(ctx, a.bus.Subscribe(256))

	// Outbound webhooks
	if len(cfg.WebhookURLs) > 0 {
		notifier, err := webhook.NewNotifier(cfg.WebhookURLs, cfg.WebhookSecret, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		go notifier.Run(ctx, a.bus.Subscribe(256))
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Msg("webhook delivery enabled")
	}
	return a, nil
}

func (a *app) close() {
	a.sessions.Close()
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) jwtConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		SigningKey: []byte(a.cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}

func (a *app) router() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.jwtConfig()))
	} else {
		e.Use(auth.JWTMiddleware(a.jwtConfig()))
	}
	e.Use(a.sessions.Track())

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}

	// Event stream
	websocket.NewHandler(a.hub).RegisterRoutes(e.Group(""))

	// API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg), middleware.RequestTimeout(timeout))
	scheduling.NewHandler(a.svc, logger).RegisterRoutes(apiV1)
	a.sessions.RegisterRoutes(apiV1)

	return e
}
