package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calobozan/mcpbridge/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New("secret-token", st, nil, nil), st
}

func TestHealthzBypassesAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestEndpointsRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}
}

func TestCreateAndListEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "weather", "url": "wss://weather.example/mcp", "enabled": true})
	req := httptest.NewRequest(http.MethodPost, "/endpoints", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	var resp struct {
		Endpoints []*store.Endpoint `json:"endpoints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Endpoints) != 1 || resp.Endpoints[0].Name != "weather" {
		t.Fatalf("unexpected endpoints: %+v", resp.Endpoints)
	}
}

func TestCreateEndpointRequiresNameAndURL(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "", "url": ""})
	req := httptest.NewRequest(http.MethodPost, "/endpoints", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPublishDiffDecisionTable(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name   string
		before store.Endpoint
		after  store.Endpoint
		want   string
	}{
		{"enable", store.Endpoint{Enabled: false}, store.Endpoint{Enabled: true}, "CONNECT"},
		{"disable", store.Endpoint{Enabled: true}, store.Endpoint{Enabled: false}, "DISCONNECT"},
		{"url change while enabled", store.Endpoint{Enabled: true, URL: "a"}, store.Endpoint{Enabled: true, URL: "b"}, "UPDATE"},
		{"no-op", store.Endpoint{Enabled: true, URL: "a"}, store.Endpoint{Enabled: true, URL: "a"}, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			before, after := c.before, c.after
			result := &store.UpdateResult{Before: &before, After: &after}
			if got := string(diffAction(&before, &after)); got != c.want {
				t.Errorf("diffAction = %q, want %q", got, c.want)
			}
			// publishDiff with a nil pub.Client publishes nothing; it must
			// still decide the action without panicking.
			s.publishDiff(nil, result)
		})
	}
}

func TestMCPToolsToggleAndList(t *testing.T) {
	s, _ := newTestServer(t)

	// enabled:false is a disable request — the wire contract speaks enabled,
	// inverted from the store's Disabled column.
	body, _ := json.Marshal(map[string]interface{}{"serverName": "weather", "toolName": "get_forecast", "enabled": false})
	req := httptest.NewRequest(http.MethodPost, "/mcp-tools/toggle", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/mcp-tools", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)

	var resp struct {
		Settings []store.ToolSetting `json:"settings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Settings) != 1 || !resp.Settings[0].Disabled {
		t.Fatalf("unexpected settings: %+v", resp.Settings)
	}
}

func TestMCPToolsToggleRequiresServerNameAndToolName(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"provider": "weather", "tool": "get_forecast", "disabled": true})
	req := httptest.NewRequest(http.MethodPost, "/mcp-tools/toggle", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.authMiddleware(s.mux).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected the legacy provider/tool body shape to be rejected with 400, got %d: %s", w.Code, w.Body.String())
	}
}
