package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dutch_scoreboard/internal/bot"
	"dutch_scoreboard/internal/config"
	"dutch_scoreboard/internal/db"
	httpServer "dutch_scoreboard/internal/http"
	"dutch_scoreboard/internal/http/middleware"
	"dutch_scoreboard/internal/kv"
	"dutch_scoreboard/internal/logger"
	"dutch_scoreboard/internal/repository"
	"dutch_scoreboard/internal/service"
	"dutch_scoreboard/internal/storage"
	"dutch_scoreboard/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version устанавливается при сборке
var Version = "dev"

func main() {
	// Инициализация структурированного логгера
	jsonLogs := os.Getenv("LOG_FORMAT") == "json"
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Init(logLevel, jsonLogs)
	log := logger.Get()

	cfg := config.Load()

	service.InitJWT()

	dbPool := db.Connect(cfg.DatabaseURL)
	defer dbPool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.EnsureSchema(ctx, dbPool); err != nil {
		log.Error("schema migration failed, structured store degraded", "error", err)
	}
	cancel()

	rdb, err := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("redis unreachable at startup, continuing degraded", "error", err)
	}
	kvStore := kv.New(rdb)

	sessions := repository.NewSessionRepository(dbPool)
	historyRepo := repository.NewHistoryRepository(dbPool)
	caps := storage.NewSelector(dbPool, kvStore)

	saver := service.NewSaveCoordinator(caps, sessions, kvStore)
	loader := service.NewLoadCoordinator(caps, sessions, kvStore)
	lifecycle := service.NewLifecycle(saver, loader, historyRepo, sessions, kvStore, caps)

	hub := ws.NewHub()
	lifecycle.SetBroadcast(hub.Broadcast)

	r := gin.Default()

	// CORS для прода и связи фронта с бэкендом(разные домены)
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	middleware.InitRedisRateLimiter(rdb)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer.RegisterRoutes(r, lifecycle, hub, cfg.BotToken, Version)

	// Бот запускается ДО HTTP сервера чтобы callback итогов был установлен
	var resultsBot *bot.ResultsBot
	if cfg.ResultsBotEnabled && cfg.BotToken != "" {
		resultsBot, err = bot.NewResultsBot(cfg.BotToken)
		if err != nil {
			log.Error("failed to start results bot", "error", err)
		} else {
			lifecycle.SetNotify(resultsBot.NotifyFinalized)
			go resultsBot.Start()
			log.Info("results bot started")
		}
	}

	sweeper := service.NewStaleSweeper(sessions, caps)
	sweeper.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		log.Info("server started", "port", cfg.AppPort, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	if resultsBot != nil {
		resultsBot.Stop()
	}
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
