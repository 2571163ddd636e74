package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"buddy-chat/internal/auth"
	"buddy-chat/internal/config"
	"buddy-chat/internal/db"
	"buddy-chat/internal/handlers"
	"buddy-chat/internal/logger"
	"buddy-chat/internal/messaging"
	"buddy-chat/internal/middleware"
	"buddy-chat/internal/observability"
	"buddy-chat/internal/rabbitmq"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/security"
	"buddy-chat/internal/telemetry"
	"buddy-chat/internal/ws"
)

const serviceName = "buddy-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	syncLogger := logger.MustInitGlobal(logger.Config{Service: serviceName, Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	defer syncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		zap.L().Fatal("failed to init tracing", zap.Error(err))
	}

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zap.L().Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	buddyRepo := repositories.NewBuddyRepo(database)
	blockRepo := repositories.NewBlockRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	secret := []byte(cfg.Auth.Secret)
	blacklist, closeBlacklist := newBlacklist(ctx, cfg, secret)
	defer closeBlacklist()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	zap.L().Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, "audit.im", serviceName, cfg.Environment)

	gateCfg := security.DefaultConfig()
	gateCfg.ConnectionsPerMinute = cfg.Security.ConnectionsPerMinute
	gateCfg.MaxPayloadBytes = cfg.Security.MaxPayloadBytes
	gateCfg.MaxMessageChars = cfg.Security.MaxMessageChars
	gate := security.NewGate(gateCfg)
	go gate.RunSweeper(ctx, cfg.Security.SweepInterval)

	tokens := auth.NewTokenManager(auth.TokenOptions{
		Secret:   secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.SessionTTL,
	})

	hub := ws.NewHub()
	router := messaging.NewRouter(buddyRepo, blockRepo, messageRepo, gate, hub, gateCfg.MaxMessageChars)
	notifier := messaging.NewNotifier(userRepo, buddyRepo, hub)
	sessions := ws.NewAuthenticator(tokens, blacklist, userRepo, hub, notifier, cfg.WS.MaxConnectionsPerUser)
	wsHandler := ws.NewHandler(hub, gate, sessions, router, ws.Config{
		AllowedOrigins:    cfg.WS.AllowedOrigins,
		HeartbeatInterval: cfg.WS.HeartbeatInterval,
		AuthTimeout:       cfg.WS.AuthTimeout,
		TypingTimeout:     cfg.WS.TypingTimeout,
	})
	go ws.RunStats(ctx, hub, cfg.WS.StatsInterval)

	authHandler := handlers.NewAuthHandler(userRepo, tokens, blacklist, audit)
	buddyHandler := handlers.NewBuddyHandler(userRepo, buddyRepo, blockRepo, hub, audit)
	blockHandler := handlers.NewBlockHandler(blockRepo, audit)
	messageHandler := handlers.NewMessageHandler(messageRepo, router, gate)
	presenceHandler := handlers.NewPresenceHandler(notifier, hub)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		zap.L().Fatal("invalid trusted proxies", zap.Error(err))
	}

	// middlewares
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	loginLimiter := security.NewSlidingWindowLimiter()
	go sweepLimiter(ctx, loginLimiter)
	engine.POST("/auth/login", middleware.RateLimit(loginLimiter, "login", 10, time.Minute), authHandler.Login)

	authMiddleware := middleware.AuthMiddleware(tokens, blacklist)

	engine.POST("/auth/logout", authMiddleware, authHandler.Logout)

	engine.GET("/buddies", authMiddleware, buddyHandler.ListBuddies)
	engine.DELETE("/buddies/:user_id", authMiddleware, buddyHandler.RemoveBuddy)
	engine.GET("/buddies/requests", authMiddleware, buddyHandler.ListRequests)
	engine.POST("/buddies/requests", authMiddleware, buddyHandler.SendRequest)
	engine.POST("/buddies/requests/:request_id/accept", authMiddleware, buddyHandler.AcceptRequest)
	engine.POST("/buddies/requests/:request_id/reject", authMiddleware, buddyHandler.RejectRequest)

	engine.GET("/blocks", authMiddleware, blockHandler.ListBlocked)
	engine.POST("/blocks", authMiddleware, blockHandler.Block)
	engine.DELETE("/blocks/:user_id", authMiddleware, blockHandler.Unblock)

	engine.GET("/conversations/:user_id/messages", authMiddleware, messageHandler.GetConversation)
	engine.POST("/messages", authMiddleware, messageHandler.PostMessage)
	engine.POST("/messages/:message_id/read", authMiddleware, messageHandler.MarkRead)

	engine.PUT("/me/status", authMiddleware, presenceHandler.SetStatus)
	engine.GET("/stats", authMiddleware, presenceHandler.Stats)

	engine.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(engine, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.L().Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zap.L().Error("tracing shutdown", zap.Error(err))
	}
}

// newBlacklist prefers redis so revocations survive restarts and are shared
// between replicas. Without REDIS_ADDR, or when redis is unreachable at start,
// revocations live in process memory.
func newBlacklist(ctx context.Context, cfg *config.Config, secret []byte) (auth.Blacklist, func()) {
	if cfg.RedisAddr == "" {
		zap.L().Warn("REDIS_ADDR not set, token blacklist is in-memory")
		return auth.NewMemoryBlacklist(secret), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("redis unreachable, token blacklist is in-memory", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return auth.NewMemoryBlacklist(secret), func() {}
	}
	return auth.NewRedisBlacklist(rdb, secret), func() { _ = rdb.Close() }
}

func sweepLimiter(ctx context.Context, l *security.SlidingWindowLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(time.Hour)
		}
	}
}
