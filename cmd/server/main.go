package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/app"
	"github.com/brightgems/openai-api-server/internal/config"
	"github.com/brightgems/openai-api-server/internal/logging"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	addr := pflag.String("addr", "", "listen address, overrides HTTP_ADDR")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: %s not loaded: %v", *envFile, err)
	}

	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		FilePath: cfg.LogFilePath,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build app", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("server starting",
		zap.String("version", app.Version),
		zap.String("provider", string(cfg.LLMProvider)),
		zap.String("model", cfg.ChatModel),
	)
	if err := a.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
