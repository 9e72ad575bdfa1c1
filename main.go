package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pagechatgo/internal/config"
	"pagechatgo/internal/http/http_server"
	"pagechatgo/internal/janitor"
	"pagechatgo/internal/ratelimit"
	"pagechatgo/internal/rooms"
	"pagechatgo/internal/services/presence"
	"pagechatgo/internal/usernames"
	"pagechatgo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Rate limiter buckets
	limiter := ratelimit.NewManager(ratelimit.Config{
		ConnectionLimit: cfg.ConnectionLimit,
		ActionLimit:     cfg.ActionLimit,
		Window:          cfg.RateWindow,
	})
	defer limiter.Stop()

	// 4. Core registries + coordination service
	registry := rooms.NewRegistry()
	allocator := usernames.NewAllocator()
	presenceSvc := presence.NewPresenceService(registry, allocator, presence.Options{
		MaxMessageLength:  cfg.MaxMessageLength,
		EmptyRoomGrace:    cfg.EmptyRoomGrace,
		RoomIdleTimeout:   cfg.RoomIdleTimeout,
		MemberIdleTimeout: cfg.MemberIdleTimeout,
	})

	// 5. WebSockets hub + server
	hub := ws.NewHub()
	wsSrv := ws.NewWsServer(hub, presenceSvc, limiter, cfg.AllowedOrigins)

	// 6. Background: periodic room/member sweep, detaching evicted conns
	janitor.Run(ctx, presenceSvc, hub, cfg.JanitorInterval)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, presenceSvc, cfg.Environment)

	go func() {
		<-ctx.Done()
		Log.Info("Shutting down gracefully")
		if err := httpServer.Dispose(); err != nil {
			Log.Error("Failed to dispose HTTP server", zap.Error(err))
		}
	}()

	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
