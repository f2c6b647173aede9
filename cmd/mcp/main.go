package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	mcpadapter "github.com/kirillkom/patient-portal/internal/adapters/mcp"
	"github.com/kirillkom/patient-portal/internal/bootstrap"
	"github.com/kirillkom/patient-portal/internal/config"
	"github.com/kirillkom/patient-portal/internal/observability/logging"
)

const serviceName = "mcp"

// The MCP server speaks over stdio, so logs must go to stderr only.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server, err := mcpadapter.New(cfg.MCPUserID, app.Queries, app.TaskList, logger)
	if err != nil {
		logger.Error("MCP_USER_ID must name the patient this server reads for", "error", err)
		os.Exit(1)
	}
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
