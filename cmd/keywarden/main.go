package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keywarden/internal/analytics"
	"keywarden/internal/bot"
	"keywarden/internal/config"
	"keywarden/internal/detector"
	"keywarden/internal/keyring"
	"keywarden/internal/modules/audit"
	"keywarden/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	state := storage.NewStateFile(cfg.StateFilePath, cfg.DeletedCap)
	if err := state.Load(); err != nil {
		// a corrupt state file must not take the bot down; start empty
		logger.Error("state load failed, starting empty", zap.String("path", cfg.StateFilePath), zap.Error(err))
	}

	store, err := storage.New(cfg.AuditDBPath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	keys := keyring.New(state, cfg.MasterKey, logger)
	detect := detector.New(detector.Config{
		BotJoinThreshold: cfg.Thresholds.BotJoins,
		BotJoinWindow:    time.Duration(cfg.Thresholds.BotJoinWindowSeconds) * time.Second,
		ChannelThreshold: cfg.Thresholds.SimilarChannels,
		ChannelWindow:    time.Duration(cfg.Thresholds.SimilarChannelWindowSeconds) * time.Second,
	})
	analyticsSvc := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, state, keys, detect, auditLogger, analyticsSvc)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
