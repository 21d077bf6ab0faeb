package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the attestation MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetAttestation = mcp.NewTool("get_attestation",
	mcp.WithDescription(
		"Look up the latest reputation attestation for a wallet address. "+
			"Returns the score, its contributing factors, the attestation time and an optional explanation. "+
			"Reports clearly when no attestation exists yet."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to look up (e.g. '0xabc...' or 'sblk1...')")),
)

var ToolSubmitAttestation = mcp.NewTool("submit_attestation",
	mcp.WithDescription(
		"Record a reputation attestation for an address. "+
			"This replaces any previous attestation for the same address entirely; "+
			"fields you omit are not carried over from the old record."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address being attested")),
	mcp.WithNumber("score",
		mcp.Required(),
		mcp.Description("Overall reputation score")),
	mcp.WithObject("factors",
		mcp.Description("Named numeric factors behind the score, e.g. {\"activity\": 0.4, \"age\": 0.3}")),
	mcp.WithString("explanation",
		mcp.Description("Human-readable reasoning for the score")),
	mcp.WithNumber("timestamp",
		mcp.Description("Unix seconds for the attestation. Defaults to the server's current time.")),
)

var ToolCheckHealth = mcp.NewTool("check_health",
	mcp.WithDescription(
		"Check whether the attestation service and its database are reachable."),
)
