// arp-agent MCP Server - exposes the attestation API as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/socialblocklabs/arp-agent/internal/config"
	"github.com/socialblocklabs/arp-agent/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL: envOrDefault("ARP_AGENT_API_URL", "http://localhost:8080"),
		APIKey: envOrDefault("ARP_AGENT_API_KEY", config.DefaultAPIKey),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
