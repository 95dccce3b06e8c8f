// Command relaywire runs the signed-URL fan-out server: clients upgrade to
// a wire under a room-scoped HMAC capability, authorized services POST
// broadcasts, and the server fans each message out to every live member of
// the named room.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/config"
	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/middleware"
	"github.com/relaywire/server/internal/v1/queue"
	"github.com/relaywire/server/internal/v1/ratelimit"
	"github.com/relaywire/server/internal/v1/tracing"
	"github.com/relaywire/server/internal/v1/wire"
	"github.com/relaywire/server/internal/v1/wireapi"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		shutdownTracing, err := tracing.Setup(ctx, "relaywire", collector)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer", zap.Error(err))
		} else {
			defer func() { _ = shutdownTracing(ctx) }()
		}
	}

	var redisClient *redis.Client
	offlineQueue, err := queue.New(cfg.RedisURL)
	if err != nil {
		logging.Error(ctx, "failed to initialize offline queue, continuing memory-only")
		offlineQueue = nil
	}
	if cfg.RedisEnabled {
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			redisClient = redis.NewClient(opts)
		}
	}
	if offlineQueue != nil {
		defer offlineQueue.Close()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	limiter, err := ratelimit.New(cfg.RateLimitAPI, cfg.RateLimitBroad, redisClient)
	if err != nil {
		logging.Error(ctx, "failed to initialize rate limiter")
		os.Exit(1)
	}

	registry := wire.NewRegistry(offlineQueue)
	handler := wire.NewHandler(registry, cfg.MessageWebhook)
	server := wireapi.NewServer(registry, handler, cfg.SigningKey, cfg.BroadcastKey, cfg.BaseURL, cfg.ConnectionLimit)

	router := gin.Default()
	router.Use(middleware.CorrelationID())
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		router.Use(otelgin.Middleware("relaywire"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.Any("/", server.Upgrade)
	router.POST("/broadcast", limiter.Middleware("broadcast"), server.Broadcast)
	router.POST("/sign-wire", limiter.Middleware("api"), server.SignWire)
	router.GET("/health", server.Health)
	router.GET("/stats", server.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "relaywire server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down relaywire server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown")
	}

	logging.Info(ctx, "relaywire server exiting")
}
