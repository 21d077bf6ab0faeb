// arp-agent - reputation attestation store for agent wallets
package main

import (
	"context"
	"os"

	"github.com/socialblocklabs/arp-agent/internal/config"
	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting arp-agent",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	if cfg.APIKey == config.DefaultAPIKey {
		logger.Warn("using the default API key; set ARP_AGENT_API_KEY outside development")
	}

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
