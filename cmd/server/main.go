package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/relay-im/relay-backend/internal/config"
	"github.com/relay-im/relay-backend/internal/database"
	"github.com/relay-im/relay-backend/internal/handlers"
	"github.com/relay-im/relay-backend/internal/middleware"
	"github.com/relay-im/relay-backend/internal/realtime"
	"github.com/relay-im/relay-backend/internal/routes"
	"github.com/relay-im/relay-backend/internal/services"
)

func main() {
	// .env is optional; configuration falls back to the environment.
	_ = godotenv.Load()
	cfg := config.Load()

	var zl *zap.Logger
	var err error
	if cfg.IsProduction() {
		zl, err = zap.NewProduction()
	} else {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	logger.Infow("connecting to PostgreSQL")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		logger.Fatalw("connecting to PostgreSQL failed", "error", err)
	}
	defer database.DisconnectPostgres()
	if err := database.InitPostgresTables(); err != nil {
		logger.Fatalw("initializing PostgreSQL tables failed", "error", err)
	}

	logger.Infow("connecting to Redis")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		logger.Fatalw("connecting to Redis failed", "error", err)
	}
	defer database.DisconnectRedis()

	logger.Infow("connecting to MongoDB")
	if err := database.Connect(cfg.MongoURI); err != nil {
		logger.Fatalw("connecting to MongoDB failed", "error", err)
	}
	defer database.Disconnect()

	if err := services.EnsureChatIndexes(context.Background()); err != nil {
		logger.Warnw("ensuring MongoDB chat indexes failed", "error", err)
	}

	core := realtime.NewCore(logger, cfg.TypingWindow)
	handlers.Init(logger, core, cfg.DeliveryTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background sweep turning stale typing indicators off.
	go core.Typing.Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.RequireJSON)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	routes.SetupRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Infow("server listening", "port", cfg.Port, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}
