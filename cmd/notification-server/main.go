package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"policypal/database"
	"policypal/internal/auth"
	"policypal/internal/config"
	"policypal/internal/email"
	"policypal/internal/gateway"
	"policypal/internal/handler"
	"policypal/internal/logger"
	"policypal/internal/middleware"
	"policypal/internal/repository"
	"policypal/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	zapLogger := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zapLogger.Sync()

	db, err := database.ConnectDB(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationRepo := repository.NewNotificationRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	userRepo := repository.NewUserRepository(db)

	hub := gateway.NewHub(zapLogger)

	// In a single-process deployment pushes go straight to the local hub.
	// With REDIS_ADDR set, pushes fan out over pub/sub so every process
	// delivers to its own connected users.
	var pusher service.Pusher = gateway.NewLocalPusher(hub)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		bridge := gateway.NewBridge(rdb, hub, zapLogger)
		go bridge.Run(ctx)
		pusher = bridge
		zapLogger.Info("Redis push bridge enabled", zap.String("addr", cfg.RedisAddr))
	}

	dispatcher, err := email.NewDispatcher(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build email dispatcher", zap.Error(err))
	}
	if !dispatcher.TestConnection() {
		zapLogger.Warn("Email transport verification failed, continuing anyway")
	}

	svc := service.NewNotificationService(cfg, notificationRepo, preferenceRepo, userRepo, pusher, dispatcher, zapLogger)
	go svc.StartSweeper(ctx)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"connected_users": hub.ConnectedUserCount(),
		})
	})

	r.GET("/ws/notifications", gateway.WSHandler(hub, verifier, zapLogger))

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(verifier))
	handler.NewNotificationHandler(svc).RegisterRoutes(api.Group("/notifications"))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		zapLogger.Info("Notification server listening", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}
}
