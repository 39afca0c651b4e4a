// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, WhatsApp client)
// and composes the delivery subsystem. This is the only place that knows
// about ALL modules.
package main

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/chatdesk/courier/pkg/config"
	"github.com/chatdesk/courier/pkg/logx"
	"github.com/chatdesk/courier/pkg/outbound"
	"github.com/chatdesk/courier/pkg/outbound/outboundhook"
	"github.com/chatdesk/courier/pkg/queuex"
	"github.com/chatdesk/courier/pkg/queuex/queuexapi"
	"github.com/chatdesk/courier/pkg/queuex/queuexpg"
	"github.com/chatdesk/courier/pkg/ratex"
	"github.com/chatdesk/courier/pkg/ratex/ratexredis"
	"github.com/chatdesk/courier/pkg/wapp"
)

// Container holds shared infrastructure and the composed delivery modules.
type Container struct {
	Config *config.Config

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client

	// Delivery subsystem
	Store    *queuexpg.PgStore
	Limiter  ratex.Limiter
	Queue    *queuex.Client
	WhatsApp *wapp.Client
	Outbound *outbound.Service

	// Admin surface
	AdminHandler *queuexapi.Handler
	AdminAuth    *queuexapi.AuthMiddleware
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure: DB, Redis
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	// 2. Redis (only needed when the rate limit budget is shared)
	if c.Config.RateLimit.Distributed {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
			logx.Fatalf("Failed to connect to Redis: %v (required for distributed rate limiting)", err)
		}
		logx.Info("  ✅ Redis connected")
	}

	logx.Info("✅ Infrastructure initialized")
}

// ---------------------------------------------------------------------------
// Module composition
// ---------------------------------------------------------------------------

func (c *Container) initModules() {
	logx.Info("📦 Initializing modules...")

	// 1. Job store
	c.Store = queuexpg.NewPgStore(c.DB)
	if err := c.Store.Migrate(context.Background()); err != nil {
		logx.Fatalf("Failed to migrate job store schema: %v", err)
	}
	logx.Info("  ✅ Job store ready")

	// 2. Rate limiter
	if c.Config.RateLimit.Distributed {
		c.Limiter = ratexredis.NewFixedWindow(c.Redis, "wapp-send",
			c.Config.RateLimit.Ceiling, c.Config.RateLimit.Window)
		logx.Infof("  ✅ Distributed rate limiter (%d per %s)",
			c.Config.RateLimit.Ceiling, c.Config.RateLimit.Window)
	} else {
		c.Limiter = ratex.NewFixedWindow(c.Config.RateLimit.Ceiling, c.Config.RateLimit.Window)
		logx.Infof("  ✅ Process-local rate limiter (%d per %s)",
			c.Config.RateLimit.Ceiling, c.Config.RateLimit.Window)
	}

	// 3. Queue engine
	c.Queue = queuex.NewClient(c.Store,
		queuex.WithRateLimiter(c.Limiter),
		queuex.WithDefaultBatchSize(c.Config.Queue.BatchSize),
		queuex.WithDefaultPollInterval(c.Config.Queue.PollInterval),
		queuex.WithDefaultHandlerTimeout(c.Config.Queue.HandlerTimeout),
		queuex.WithDefaultRetryPolicy(c.Config.Queue.DefaultRetryLimit,
			int(c.Config.Queue.DefaultRetryDelay.Seconds())),
		queuex.WithShutdownTimeout(c.Config.Queue.ShutdownTimeout),
		queuex.WithExpireInterval(c.Config.Queue.ExpireInterval),
	)
	logx.Info("  ✅ Queue engine configured")

	// 4. WhatsApp client
	c.WhatsApp = wapp.NewClient(
		c.Config.WhatsApp.AccessToken,
		c.Config.WhatsApp.PhoneNumberID,
		c.Config.WhatsApp.BaseURL,
		&http.Client{Timeout: c.Config.WhatsApp.Timeout},
	)
	logx.Info("  ✅ WhatsApp client configured")

	// 5. Outbound service with core backend collaborators
	core := outboundhook.NewClient(c.Config.Core.BaseURL, c.Config.Core.APIKey, c.Config.Core.Timeout)
	c.Outbound = outbound.NewService(c.Queue, c.WhatsApp, core, core, core)
	c.Outbound.RegisterHandlers(queuex.WorkerConfig{
		BatchSize:      c.Config.Queue.BatchSize,
		PollInterval:   c.Config.Queue.PollInterval,
		HandlerTimeout: c.Config.Queue.HandlerTimeout,
	})
	logx.Info("  ✅ Outbound handlers registered")

	// 6. Admin surface
	c.AdminHandler = queuexapi.NewHandler(c.Queue)
	c.AdminAuth = queuexapi.NewAuthMiddleware(c.Config.Server.JWTSecret)
	if c.Config.Server.JWTSecret == "" {
		logx.Warn("  ⚠️ ADMIN_JWT_SECRET is empty, admin API is unauthenticated")
	}

	logx.Info("✅ Modules initialized")
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// StartBackgroundServices starts the worker loops. It returns a channel that
// closes once the queue engine has fully drained after ctx is cancelled.
func (c *Container) StartBackgroundServices(ctx context.Context) <-chan struct{} {
	logx.Info("🔄 Starting background services...")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Queue.Start(ctx); err != nil {
			logx.Errorf("Queue engine stopped with error: %v", err)
		}
	}()
	return done
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
