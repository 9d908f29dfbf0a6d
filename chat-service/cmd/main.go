package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/cache"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/capture"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/config"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/handler"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/hub"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/idgen"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/playback"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/realtime"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/registry"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/repository"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/service"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/session"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	"github.com/isaacberry91/propswipes-sub000/pkg/database"
	"github.com/isaacberry91/propswipes-sub000/pkg/jwt"
	pkglog "github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/isaacberry91/propswipes-sub000/pkg/middleware"
	"github.com/isaacberry91/propswipes-sub000/pkg/pubsub"
	"github.com/isaacberry91/propswipes-sub000/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "chat-service",
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(pkglog.WithLogger(context.Background(), logger))
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := repository.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	matchRepo := repository.NewGormMatchRepository(db)

	var messageRepo repository.MessageRepository
	switch cfg.MessageStore.Driver {
	case "cassandra":
		repo, err := repository.NewCassandraMessageRepository(cfg.MessageStore.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		messageRepo = repo
	default:
		messageRepo = repository.NewGormMessageRepository(db)
	}
	defer messageRepo.Close()
	logger.Info().Str("driver", cfg.MessageStore.Driver).Msg("message store ready")

	// Redis backs the context cache, presence and remembered playback speeds
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var contextCache cache.ContextCache = cache.NewNoOpContextCache()
	if cfg.Cache.Enabled {
		contextCache = cache.NewRedisContextCache(redisClient, cfg.Cache.Prefix)
	}
	loader := session.NewLoader(matchRepo, matchRepo, matchRepo, contextCache, cfg.Cache.TTL)

	// Match events fan out to every instance through pubsub
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pubsub")
	}
	defer ps.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub connected")

	var dispatcher notify.Dispatcher = notify.NoOpDispatcher{}
	if cfg.Notify.Driver == "kafka" {
		kd, err := notify.NewKafkaDispatcher(cfg.Notify.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create notification producer")
		}
		dispatcher = kd
	}

	presence := registry.NewRedisRegistry(redisClient, cfg.Presence, cfg.Server.InstanceID)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	ids, err := idgen.New(cfg.IDGen)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize id generator")
	}
	up := uploader.New(store, ids, uploader.NewImageNormalizer(cfg.Uploader.MaxImageDimension), cfg.Uploader)

	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}

	speeds := speedStores(cfg.Playback, redisClient)
	devices := func() (service.MediaDevice, error) {
		d, err := capture.NewWebRTCDevice(cfg.Capture)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	h := hub.NewHub()
	go h.Run()

	chatService := service.NewChatService(h, tokens, loader, service.Deps{
		Messages:      messageRepo,
		Matches:       matchRepo,
		Feed:          realtime.NewPubSubFeed(ps),
		Uploader:      up,
		Notifier:      dispatcher,
		Presence:      presence,
		IDs:           ids,
		NotifyTimeout: cfg.Notify.Timeout,
		Recorder:      cfg.Recorder,
		SpeedCycle:    cfg.Playback.Speeds,
	}, devices, speeds)

	if err := chatService.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start chat service")
	}

	// REST routes on gin, the WebSocket upgrade on the plain mux
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	var files handler.FileStore
	if local, ok := store.(*storage.LocalStorage); ok {
		files = local
	}
	handler.NewHTTPHandler(chatService, middleware.NewAuthMiddleware(tokens).RequireAuth(), files, cfg.Uploader.MaxFileSize).RegisterRoutes(r)

	// The upgrade endpoint is logged by HTTPMiddleware, everything else by gin.
	wsMux := http.NewServeMux()
	handler.NewWSHandler(h, chatService, cfg.WebSocket).RegisterRoutes(wsMux)
	mux := http.NewServeMux()
	mux.Handle("/chat/ws", pkglog.HTTPMiddleware(logger)(wsMux))
	mux.Handle("/", r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("instance", cfg.Server.InstanceID).Msg("chat-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	chatService.Stop()
	h.Stop()

	logger.Info().Msg("chat-service stopped")
}

func speedStores(cfg config.PlaybackConfig, client *redis.Client) service.SpeedStoreFactory {
	if cfg.Store != "redis" {
		// nil keeps speeds per connection
		return nil
	}
	store := playback.NewRedisSpeedStore(client, cfg.SpeedPrefix, cfg.SpeedTTL)
	return func(viewerProfileID string) playback.SpeedStore {
		return store.ForViewer(viewerProfileID)
	}
}
