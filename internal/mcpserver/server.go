package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Name and Version identify this server to MCP clients.
const (
	Name    = "arp-agent"
	Version = "1.0.0"
)

// NewMCPServer creates a configured MCP server with all attestation tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer(Name, Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetAttestation, h.HandleGetAttestation)
	s.AddTool(ToolSubmitAttestation, h.HandleSubmitAttestation)
	s.AddTool(ToolCheckHealth, h.HandleCheckHealth)

	return s
}
