package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calobozan/mcpbridge/internal/store"
)

func TestListEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/endpoints" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"endpoints": []*store.Endpoint{{ID: 1, Name: "weather", URL: "wss://weather.example/mcp"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	endpoints, err := c.ListEndpoints()
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].Name != "weather" {
		t.Fatalf("unexpected endpoints: %+v", endpoints)
	}
}

func TestDecodeOrErrorReturnsServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"name and url are required"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.AddEndpoint("", "", false)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if !strings.Contains(err.Error(), "name and url are required") {
		t.Errorf("expected the server's message in the error, got %q", err.Error())
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := NewFromPort(0, "")
	c.BaseURL = srv.URL
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
