package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/bootstrap"
	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/telegram"
)

func main() {
	logger, err := bootstrap.Logger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.TelegramToken == "" {
		logger.Fatal("TELEGRAM_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, handle, err := bootstrap.Pipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	defer handle.Close()

	svc, err := bootstrap.Connect(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Fatal("failed to connect dependencies", zap.Error(err))
	}
	defer svc.Close()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatal("failed to authorize bot", zap.Error(err))
	}
	logger.Info("bot authorized", zap.String("account", api.Self.UserName))

	bot := telegram.NewBot(api, telegram.APIFiles{API: api}, svc.Diagnosis, logger)
	if err := bot.Run(ctx, api); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped", zap.Error(err))
	}
	logger.Info("bot exited")
}
