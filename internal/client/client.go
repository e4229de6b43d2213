// Package client provides an HTTP client for the mcpbridge admin API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calobozan/mcpbridge/internal/store"
)

// Client is an HTTP client for the mcpbridge admin API.
type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
}

// New creates a new client for the given admin API server URL.
func New(baseURL, authToken string) *Client {
	return &Client{
		BaseURL:   baseURL,
		AuthToken: authToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFromPort creates a client for localhost on the given admin API port.
func NewFromPort(port int, authToken string) *Client {
	return New(fmt.Sprintf("http://localhost:%d", port), authToken)
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeOrError(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ping checks if the admin API is reachable.
func (c *Client) Ping() error {
	resp, err := c.do(http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	return decodeOrError(resp, nil)
}

// ListEndpoints returns every configured endpoint.
func (c *Client) ListEndpoints() ([]*store.Endpoint, error) {
	resp, err := c.do(http.MethodGet, "/endpoints", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Endpoints []*store.Endpoint `json:"endpoints"`
	}
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return out.Endpoints, nil
}

// GetEndpoint returns one endpoint by ID.
func (c *Client) GetEndpoint(id int64) (*store.Endpoint, error) {
	resp, err := c.do(http.MethodGet, fmt.Sprintf("/endpoints/%d", id), nil)
	if err != nil {
		return nil, err
	}
	var ep store.Endpoint
	if err := decodeOrError(resp, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// AddEndpoint registers a new endpoint.
func (c *Client) AddEndpoint(name, url string, enabled bool) (*store.Endpoint, error) {
	resp, err := c.do(http.MethodPost, "/endpoints", map[string]interface{}{
		"name": name, "url": url, "enabled": enabled,
	})
	if err != nil {
		return nil, err
	}
	var ep store.Endpoint
	if err := decodeOrError(resp, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// UpdateEndpoint updates an existing endpoint's name, URL, and enabled state.
func (c *Client) UpdateEndpoint(id int64, name, url string, enabled bool) (*store.Endpoint, error) {
	resp, err := c.do(http.MethodPut, fmt.Sprintf("/endpoints/%d", id), map[string]interface{}{
		"name": name, "url": url, "enabled": enabled,
	})
	if err != nil {
		return nil, err
	}
	var ep store.Endpoint
	if err := decodeOrError(resp, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// DeleteEndpoint removes an endpoint.
func (c *Client) DeleteEndpoint(id int64) error {
	resp, err := c.do(http.MethodDelete, fmt.Sprintf("/endpoints/%d", id), nil)
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// BackupEndpoints downloads the full endpoint backup.
func (c *Client) BackupEndpoints() (*store.EndpointBackup, error) {
	resp, err := c.do(http.MethodGet, "/backup", nil)
	if err != nil {
		return nil, err
	}
	var backup store.EndpointBackup
	if err := decodeOrError(resp, &backup); err != nil {
		return nil, err
	}
	return &backup, nil
}

// RestoreEndpoints uploads a previously downloaded endpoint backup.
func (c *Client) RestoreEndpoints(endpoints []*store.Endpoint) error {
	resp, err := c.do(http.MethodPost, "/restore", map[string]interface{}{"endpoints": endpoints})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// ListToolSettings returns every stored tool-setting override.
func (c *Client) ListToolSettings() ([]store.ToolSetting, error) {
	resp, err := c.do(http.MethodGet, "/mcp-tools", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Settings []store.ToolSetting `json:"settings"`
	}
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return out.Settings, nil
}

// ToolCache returns the hub's raw, unfiltered per-provider tool cache.
func (c *Client) ToolCache() (map[string]interface{}, error) {
	resp, err := c.do(http.MethodGet, "/mcp-tools/cache", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Providers map[string]interface{} `json:"providers"`
	}
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// ToggleTool enables or disables a single provider's tool. disabled is the
// CLI's vocabulary; the wire contract speaks enabled, so it's inverted here.
func (c *Client) ToggleTool(provider, tool string, disabled bool) error {
	resp, err := c.do(http.MethodPost, "/mcp-tools/toggle", map[string]interface{}{
		"serverName": provider, "toolName": tool, "enabled": !disabled,
	})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// UpdateToolDescription sets a custom display description for a tool.
func (c *Client) UpdateToolDescription(provider, tool, customDescription string) error {
	resp, err := c.do(http.MethodPost, "/mcp-tools/update", map[string]interface{}{
		"serverName": provider, "toolName": tool, "customDescription": customDescription,
	})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// ResetTool removes a tool's override, restoring its provider-advertised
// defaults.
func (c *Client) ResetTool(provider, tool string) error {
	resp, err := c.do(http.MethodPost, "/mcp-tools/reset", map[string]interface{}{
		"serverName": provider, "toolName": tool,
	})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// BackupToolSettings downloads every tool-setting override.
func (c *Client) BackupToolSettings() (*store.ToolSettingsBackup, error) {
	resp, err := c.do(http.MethodGet, "/mcp-tools/backup", nil)
	if err != nil {
		return nil, err
	}
	var backup store.ToolSettingsBackup
	if err := decodeOrError(resp, &backup); err != nil {
		return nil, err
	}
	return &backup, nil
}

// RestoreToolSettings uploads a previously downloaded tool-settings backup.
func (c *Client) RestoreToolSettings(settings []store.ToolSetting) error {
	resp, err := c.do(http.MethodPost, "/mcp-tools/restore", map[string]interface{}{"settings": settings})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}

// RefreshTools asks the hub to re-request tools/list from one provider, or
// from every connected provider when provider is empty.
func (c *Client) RefreshTools(provider string) error {
	resp, err := c.do(http.MethodPost, "/mcp-tools/refresh", map[string]interface{}{"serverName": provider})
	if err != nil {
		return err
	}
	return decodeOrError(resp, nil)
}
