package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildWSURI(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		provider string
		token    string
		want     string
	}{
		{"missing path gets /mcp appended", "wss://host.example", "weather", "", "wss://host.example/mcp?server=weather"},
		{"root path gets /mcp appended", "wss://host.example/", "weather", "", "wss://host.example/mcp?server=weather"},
		{"existing path kept as-is", "wss://host.example/mcp", "weather", "", "wss://host.example/mcp?server=weather"},
		{"existing query gets & separator", "wss://host.example/mcp?x=1", "weather", "", "wss://host.example/mcp?x=1&server=weather"},
		{"token appended when set", "wss://host.example/mcp", "weather", "secret", "wss://host.example/mcp?server=weather&token=secret"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := buildWSURI(c.endpoint, c.provider, c.token)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Errorf("buildWSURI(%q, %q, %q) = %q, want %q", c.endpoint, c.provider, c.token, got, c.want)
			}
		})
	}
}

func TestSupervisorStartsIdle(t *testing.T) {
	s := New(Task{EndpointName: "ep", Provider: "weather"}, nil)
	if got := s.Status(); got != StatusIdle {
		t.Errorf("initial status = %q, want %q", got, StatusIdle)
	}
}

func TestRunStopsOnAuthErrorInsteadOfRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var statuses []Status
	onStatus := func(target string, status Status, detail string) {
		statuses = append(statuses, status)
	}

	s := New(Task{EndpointName: "ep", EndpointURL: wsURL, Provider: "weather"}, onStatus)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after an authentication rejection; it should stop retrying")
	}

	if got := s.Status(); got != StatusTerminated {
		t.Errorf("status after auth rejection = %q, want %q", got, StatusTerminated)
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != StatusTerminated {
		t.Errorf("expected the final status transition to be terminated, got %v", statuses)
	}
	for _, st := range statuses {
		if st == StatusBackoff {
			t.Errorf("expected no backoff retry after an auth rejection, got status sequence %v", statuses)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	backoff := initialBackoff
	for i := 0; i < 20; i++ {
		backoff = backoff * 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if backoff != maxBackoff {
		t.Errorf("backoff after repeated doubling = %v, want cap %v", backoff, maxBackoff)
	}
}
