package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bubu-agent/bubu/internal/logger"
	"github.com/bubu-agent/bubu/internal/mcp"
)

// bubu-mcp exposes the bubu HTTP API as MCP tools over stdio.
// stdout carries the protocol, so logs go to stderr.

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", envOr("BUBU_API_URL", "http://127.0.0.1:8000"), "bubu HTTP API base URL")
	token := flag.String("token", envOr("BUBU_API_BEARER_TOKEN", os.Getenv("API_BEARER_TOKEN")), "bearer token for protected routes")
	flag.Parse()

	log := logger.New("bubu-mcp", logger.Options{Level: os.Getenv("LOG_LEVEL"), Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewClient(*apiURL, *token))
	log.Info().Str("api", *apiURL).Msg("MCP server starting")
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("MCP server stopped")
		stop()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
