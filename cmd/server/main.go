package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/cache"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/config"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/handlers"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/handlers/ws"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/logging"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/middleware"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/repository"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/storage"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "console", os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database pool")
	}

	// Redis carries row changes between instances and caches profiles. Without
	// it the process runs single-node on an in-memory bus.
	var (
		bus        realtime.Bus
		redisCache *cache.RedisCache
		kv         cache.KV
	)
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis connection failed")
		}
		defer redisCache.Close()
		bus = realtime.NewRedisBus(redisCache.Client(), log)
		kv = redisCache
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis bus connected")
	} else {
		bus = realtime.NewMemoryBus()
		log.Warn().Msg("REDIS_ADDR not set, using in-memory bus")
	}

	store := repository.NewStore(db, bus, log)
	profiles := cache.NewProfileCache(kv, repository.NewUserRepository(db), cfg.Sync.ProfileCacheTTL, log)

	// Object storage is best-effort; sends with files fail with 503 if missing.
	var objects chatsync.ObjectStore
	if s3Store, err := storage.NewS3Storage(cfg.Storage); err != nil {
		log.Warn().Err(err).Msg("attachment storage disabled")
	} else if err := s3Store.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("attachment bucket unavailable")
	} else {
		objects = s3Store
		log.Info().Str("bucket", cfg.Storage.Bucket).Msg("attachment storage ready")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub(log)
	defer hub.Close()

	previews := chatsync.NewPreviewRegistry()
	sessions := chatsync.NewManager(ctx, chatsync.Deps{
		Backend:  store,
		Profiles: profiles,
		Objects:  objects,
		Notifier: hub,
		Bus:      bus,
		Previews: previews,
		Metrics:  chatsync.NewMetrics(registry),
		Log:      log,
		Config: chatsync.Config{
			RebuildDebounce:  cfg.Sync.RebuildDebounce,
			PresenceDebounce: cfg.Sync.PresenceDebounce,
			TypingExpiry:     cfg.Sync.TypingExpiry,
			AttachmentURLTTL: cfg.Sync.AttachmentURLTTL,
		},
	}, cfg.Sync.SessionIdle)

	limits := validation.Limits{
		MaxMessageLength:   cfg.Limits.MaxMessageLength,
		MaxAttachmentBytes: cfg.Limits.MaxAttachmentBytes,
		MaxAttachments:     cfg.Limits.MaxAttachments,
	}

	checks := map[string]handlers.HealthCheck{"database": sqlDB.PingContext}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}

	messageHandler := handlers.NewMessageHandler(sessions, previews, limits, log)
	groupHandler := handlers.NewGroupHandler(sessions, limits, log)
	wsHandler := handlers.NewWebSocketHandler(sessions, hub, log)
	healthHandler := handlers.NewHealthHandler(checks, sessions, hub.Count)

	bodyLimit := int(cfg.Limits.MaxAttachmentBytes)*cfg.Limits.MaxAttachments + 1<<20
	app := fiber.New(fiber.Config{
		AppName:               "School Chat Sync",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Origins(), ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})
	app.Get("/health", healthHandler.Health)

	origins := cfg.Origins()
	api := app.Group("/api",
		middleware.OriginAllowed(origins),
		middleware.AuthRequired(cfg.JWTSecret),
		middleware.CSRFRequired(cfg.CSRFMode, origins),
	)

	api.Get("/conversations", messageHandler.GetConversations)
	api.Get("/conversations/:peer_id/messages", messageHandler.GetMessages)
	api.Post(
		"/conversations/:peer_id/messages",
		limiter.New(limiter.Config{
			Max:        60,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				if uid, err := httpx.LocalUint(c, httpx.UserIDKey); err == nil {
					return "send:" + strconv.FormatUint(uint64(uid), 10)
				}
				return c.IP()
			},
		}),
		messageHandler.SendMessage,
	)
	api.Post("/conversations/:peer_id/read", messageHandler.MarkConversationRead)
	api.Put("/conversations/:peer_id/state", messageHandler.UpdateChatState)
	api.Delete("/messages/:id", messageHandler.DeleteMessage)
	api.Post("/messages/:id/reactions", messageHandler.React)
	api.Delete("/messages/:id/reactions", messageHandler.Unreact)
	api.Post("/typing", messageHandler.SetTyping)
	api.Get("/previews/:id", messageHandler.GetPreview)

	api.Get("/groups", groupHandler.GetMyGroups)
	api.Get("/groups/:id/messages", groupHandler.GetGroupMessages)
	api.Post("/groups/:id/messages", groupHandler.SendGroupMessage)
	api.Delete("/groups/:id/messages/:mid", groupHandler.DeleteGroupMessage)
	api.Post("/groups/:id/messages/:mid/reactions", groupHandler.React)
	api.Delete("/groups/:id/messages/:mid/reactions", groupHandler.Unreact)
	api.Post("/groups/:id/read", groupHandler.MarkGroupRead)

	app.Use(
		"/ws",
		middleware.OriginAllowed(origins),
		middleware.AuthRequired(cfg.JWTSecret),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	go func() {
		<-ctx.Done()
		shutdown(app, sessions, log)
	}()

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// shutdown stops accepting requests, then closes every sync session so
// presence goes offline and subscriptions are released.
func shutdown(app *fiber.App, sessions *chatsync.Manager, log zerolog.Logger) {
	log.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	sessions.CloseAll()
}
