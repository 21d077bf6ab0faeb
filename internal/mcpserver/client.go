package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/socialblocklabs/arp-agent/internal/attestation"
)

// Config holds the configuration for connecting to the attestation API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Shared secret sent as x-api-key
}

// ErrNotFound is returned when the API has no attestation for an address.
var ErrNotFound = errors.New("attestation not found")

// Client is a pure HTTP client for the attestation API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the attestation API.
func NewClient(cfg Config) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the service.
type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Code, e.Message)
}

// doRequest makes an HTTP request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Detail != "" {
			msg = apiErr.Detail
		}
		if resp.StatusCode == http.StatusNotFound && apiErr.Error == "not_found" {
			return ErrNotFound
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetAttestation fetches the stored attestation for address.
func (c *Client) GetAttestation(ctx context.Context, address string) (*attestation.Attestation, error) {
	var a attestation.Attestation
	if err := c.doRequest(ctx, http.MethodGet, "/v1/attestations/"+url.PathEscape(address), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SubmitAttestation stores req, replacing any previous record for the address.
func (c *Client) SubmitAttestation(ctx context.Context, req attestation.SubmitRequest) (*attestation.SubmitResponse, error) {
	var ack attestation.SubmitResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/attestations", req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Health calls the unauthenticated health probe.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}
