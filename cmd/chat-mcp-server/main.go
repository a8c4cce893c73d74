// Command chat-mcp-server exposes the chat orchestrator as MCP tools over
// stdio. Logs go to stderr so stdout stays a clean protocol stream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/app"
	"github.com/brightgems/openai-api-server/internal/config"
	"github.com/brightgems/openai-api-server/internal/logging"
	"github.com/brightgems/openai-api-server/internal/mcptools"
)

func main() {
	log.SetOutput(os.Stderr)
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: %s not loaded: %v", *envFile, err)
	}

	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		FilePath: cfg.LogFilePath,
		Stderr:   true,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	core, err := app.NewCore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build chat core", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core.History.Start()
	defer func() {
		if err := core.History.Stop(); err != nil {
			logger.Error("final conversation save failed", zap.Error(err))
		}
		if core.Interactions != nil {
			_ = core.Interactions.Close()
		}
	}()

	server := mcptools.NewServer(core.Chat, app.Version, logger)
	logger.Info("chat MCP server starting on stdio")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		logger.Error("MCP server failed", zap.Error(err))
	}
}
