package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/socialblocklabs/arp-agent/internal/attestation"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetAttestation looks up an address.
func (h *Handlers) HandleGetAttestation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := strings.TrimSpace(req.GetString("address", ""))
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	a, err := h.client.GetAttestation(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return mcp.NewToolResultText(fmt.Sprintf("No attestation recorded for %s.", address)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get attestation: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAttestation(a)), nil
}

// HandleSubmitAttestation records an attestation.
func (h *Handlers) HandleSubmitAttestation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	address := strings.TrimSpace(req.GetString("address", ""))
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	score, ok := args["score"].(float64)
	if !ok {
		return mcp.NewToolResultError("score is required and must be a number"), nil
	}

	sub := attestation.SubmitRequest{Address: address, Score: &score}

	if raw, present := args["factors"]; present && raw != nil {
		factors, err := parseFactors(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sub.Factors = factors
	}
	if raw, present := args["explanation"]; present && raw != nil {
		expl, ok := raw.(string)
		if !ok {
			return mcp.NewToolResultError("explanation must be a string"), nil
		}
		sub.Explanation = &expl
	}
	if raw, present := args["timestamp"]; present && raw != nil {
		ts, err := parseUnixSeconds(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sub.Timestamp = &ts
	}

	ack, err := h.client.SubmitAttestation(ctx, sub)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit attestation: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Attestation stored for %s (score %.4g) at %s.",
		ack.Address, score, formatTime(ack.Timestamp),
	)), nil
}

// HandleCheckHealth probes the service.
func (h *Handlers) HandleCheckHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.client.Health(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Service unhealthy: %v", err)), nil
	}
	return mcp.NewToolResultText("Service healthy: API and database reachable."), nil
}

// ---------------------------------------------------------------------------
// Formatting helpers
// ---------------------------------------------------------------------------

// parseUnixSeconds accepts a JSON number holding whole seconds that fit in int64.
func parseUnixSeconds(raw any) (int64, error) {
	ts, ok := raw.(float64)
	if !ok || ts != math.Trunc(ts) || math.IsInf(ts, 0) {
		return 0, fmt.Errorf("timestamp must be whole unix seconds")
	}
	// -2^63 is exact as a float64; 2^63 is the first value past MaxInt64.
	if ts < math.MinInt64 || ts >= -math.MinInt64 {
		return 0, fmt.Errorf("timestamp is out of range")
	}
	return int64(ts), nil
}

func parseFactors(raw any) (attestation.Factors, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("factors must be an object of name to number")
	}
	out := make(attestation.Factors, len(m))
	for k, v := range m {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("factor %q must be a number", k)
		}
		out[k] = f
	}
	return out, nil
}

func formatAttestation(a *attestation.Attestation) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Attestation for %s\n", a.Address))
	sb.WriteString(fmt.Sprintf("  Score: %.4g\n", a.Score))
	sb.WriteString(fmt.Sprintf("  Attested: %s\n", formatTime(a.Timestamp)))

	if len(a.Factors) > 0 {
		names := make([]string, 0, len(a.Factors))
		for k := range a.Factors {
			names = append(names, k)
		}
		sort.Strings(names)
		sb.WriteString("  Factors:\n")
		for _, k := range names {
			sb.WriteString(fmt.Sprintf("    %s: %.4g\n", k, a.Factors[k]))
		}
	}
	if a.Explanation != nil && *a.Explanation != "" {
		sb.WriteString(fmt.Sprintf("  Explanation: %s\n", *a.Explanation))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
