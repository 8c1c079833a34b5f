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

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/server"
	"github.com/room4-2/iacfarm/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := app.Build(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("backend_setup_failed", zap.Error(err))
	}
	defer backends.Close()

	sessionManager, err := session.NewManager(cfg, backends.SessionServices(), zlog)
	if err != nil {
		zlog.Fatal("session_manager_failed", zap.Error(err))
	}
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, server.Deps{
		Sessions:  sessionManager,
		Diagnoses: backends.Gateway,
		Planner:   backends.Planner,
		Weather:   backends.Weather,
		UploadDir: backends.Objects.Dir(),
		Logger:    zlog,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		zlog.Info("shutdown_signal_received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Error("server_shutdown_failed", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal("server_failed", zap.Error(err))
	}
	<-stopped
	zlog.Info("server_stopped")
}
