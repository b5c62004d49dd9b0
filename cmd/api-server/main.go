package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/slide-labs/slide-socialfi/internal/apiserver"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/session"
	"github.com/slide-labs/slide-socialfi/internal/store"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadAPIServerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("api-server", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("failed to initialize store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "err", err)
		}
	}()

	sess, err := session.Open(ctx, session.Options{
		Env:        cfg.Env,
		RPCTimeout: cfg.RPCTimeout,
		Cache:      cfg.Cache,
	}, logger)
	if err != nil {
		logger.Error("failed to open session", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error("failed to close session", "err", err)
		}
	}()

	svc := apiserver.New(cfg, st, sess.Prices, logger)
	if err := svc.Run(ctx); err != nil {
		logger.Error("api-server exited with error", "err", err)
		os.Exit(1)
	}
}
