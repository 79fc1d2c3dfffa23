package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/jamstream/server/internal/catalog"
	"github.com/jamstream/server/internal/chat"
	"github.com/jamstream/server/internal/discovery"
	"github.com/jamstream/server/internal/handler"
	"github.com/jamstream/server/internal/playback"
	"github.com/jamstream/server/internal/registry"
	"github.com/jamstream/server/internal/store"
	"github.com/jamstream/server/internal/syncer"
	"github.com/jamstream/server/internal/ws"
	"github.com/jamstream/server/pkg/config"
	"github.com/jamstream/server/pkg/db"
	"github.com/jamstream/server/pkg/jwt"
	"github.com/jamstream/server/pkg/logger"
	"github.com/jamstream/server/pkg/rediskit"
)

//go:embed migrations/*.sql
var migrations embed.FS

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level)})
	log.Info("starting jamstream server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 数据库迁移
	migrator, err := db.NewMigrator(cfg.Postgres.DSN(), migrations, "migrations")
	if err != nil {
		log.Fatal("failed to create migrator", logger.Error(err))
	}
	if err := migrator.Up(); err != nil {
		log.Fatal("failed to run migrations", logger.Error(err))
	}
	migrator.Close()
	log.Info("migrations applied")

	pool, err := db.Connect(ctx, &db.Config{DSN: cfg.Postgres.DSN(), MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		log.Fatal("failed to connect to postgres", logger.Error(err))
	}
	defer pool.Close()
	log.Info("connected to postgres")

	redisClient, err := rediskit.NewClient(ctx, &rediskit.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("failed to connect to redis", logger.Error(err))
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	// 仓储层
	recordRepo := store.NewRoomRecordRepository(pool)
	tagRepo := store.NewTagRepository(pool)
	userRepo := store.NewUserRepository(pool)
	followRepo := store.NewFollowRepository(pool)

	// 核心组件
	reg := registry.New()
	chatLog := chat.NewLog(cfg.Realtime.ChatHistory)
	spotify := catalog.NewSpotifyClient(catalog.SpotifyConfig{
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: cfg.Catalog.Timeout,
	}, log)

	sync := syncer.New(reg, recordRepo, tagRepo, userRepo, redisClient, log)
	go sync.Start(ctx)

	hub := ws.NewHub(reg, chatLog, sync, cfg.Realtime.MaxConnections, log)
	controller := playback.New(reg, spotify, sync, hub, log)
	hub.SetCommander(controller)
	go hub.Run(ctx)

	disc := discovery.New(recordRepo, tagRepo, followRepo, reg, redisClient, log)

	// 定时补偿同步失败的房间
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		sync.FlushPending(context.Background())
	}); err != nil {
		log.Fatal("failed to schedule pending flush", logger.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	jwtManager := jwt.NewManager(&jwt.Config{
		Secret:      cfg.JWT.Secret,
		Issuer:      cfg.JWT.Issuer,
		TokenExpiry: cfg.JWT.TokenExpiry,
	})

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterDeps{
		JWTManager: jwtManager,
		Room:       handler.NewRoomHandler(reg, recordRepo, spotify, sync, hub, log),
		Playback:   handler.NewPlaybackHandler(controller, spotify, log),
		Discovery:  handler.NewDiscoveryHandler(disc, log),
		WS:         handler.NewWSHandler(hub, log),
		Health:     handler.NewHealthHandler(pool, redisClient),
		Logger:     log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("http server listening", logger.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", logger.Error(err))
	}

	log.Info("server stopped")
}
