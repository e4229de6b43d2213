// Package adminapi implements the admin HTTP API (C8): endpoint CRUD,
// tool-settings CRUD, backup/restore, and an SSE stream of endpoint
// status, in the plain net/http, bearer-token style of the teacher's
// internal/server package.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calobozan/mcpbridge/internal/hub"
	"github.com/calobozan/mcpbridge/internal/pubsub"
	"github.com/calobozan/mcpbridge/internal/store"
)

// Server is the mcpbridge admin API.
type Server struct {
	authToken string
	store     *store.Store
	hub       *hub.Hub
	pub       *pubsub.Client
	mux       *http.ServeMux
	now       func() time.Time
}

// New creates an admin API server.
func New(authToken string, st *store.Store, h *hub.Hub, pub *pubsub.Client) *Server {
	s := &Server{
		authToken: authToken,
		store:     st,
		hub:       h,
		pub:       pub,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/endpoints/stream", s.handleEndpointsStream)
	s.mux.HandleFunc("/endpoints", s.handleEndpoints)
	s.mux.HandleFunc("/endpoints/", s.handleEndpoint)
	s.mux.HandleFunc("/backup", s.handleBackupEndpoints)
	s.mux.HandleFunc("/restore", s.handleRestoreEndpoints)
	s.mux.HandleFunc("/mcp-tools", s.handleMCPTools)
	s.mux.HandleFunc("/mcp-tools/cache", s.handleMCPToolsCache)
	s.mux.HandleFunc("/mcp-tools/toggle", s.handleMCPToolsToggle)
	s.mux.HandleFunc("/mcp-tools/update", s.handleMCPToolsUpdate)
	s.mux.HandleFunc("/mcp-tools/reset", s.handleMCPToolsReset)
	s.mux.HandleFunc("/mcp-tools/backup", s.handleMCPToolsBackup)
	s.mux.HandleFunc("/mcp-tools/restore", s.handleMCPToolsRestore)
	s.mux.HandleFunc("/mcp-tools/refresh", s.handleMCPToolsRefresh)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// ListenAndServe starts the admin API on port.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("mcpbridge admin API listening on %s", addr)
	return http.ListenAndServe(addr, s.authMiddleware(s.mux))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/endpoints/stream" {
			next.ServeHTTP(w, r)
			return
		}
		if s.authToken != "" {
			token := r.Header.Get("Authorization")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			expected := "Bearer " + s.authToken
			if token != expected && token != s.authToken {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.json(w, map[string]string{"status": "ok"})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		endpoints, err := s.store.ListEndpoints()
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.json(w, map[string]interface{}{"endpoints": endpoints})

	case http.MethodPost:
		var body struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		body.Name = strings.TrimSpace(body.Name)
		body.URL = strings.TrimSpace(body.URL)
		if body.Name == "" || body.URL == "" {
			s.jsonError(w, "name and url are required", http.StatusBadRequest)
			return
		}

		ep, err := s.store.AddEndpoint(body.Name, body.URL, body.Enabled)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ep.Enabled {
			s.publish(r.Context(), pubsub.ActionConnect, ep)
		}

		w.WriteHeader(http.StatusCreated)
		s.json(w, ep)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/endpoints/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.jsonError(w, "invalid endpoint id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ep, err := s.store.GetEndpoint(id)
		if err != nil {
			s.jsonError(w, "not found", http.StatusNotFound)
			return
		}
		s.json(w, ep)

	case http.MethodPut:
		var body struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		result, err := s.store.UpdateEndpoint(id, body.Name, body.URL, body.Enabled)
		if err != nil {
			s.jsonError(w, "not found", http.StatusNotFound)
			return
		}

		s.publishDiff(r.Context(), result)
		s.json(w, result.After)

	case http.MethodDelete:
		before, err := s.store.DeleteEndpoint(id)
		if err != nil {
			s.jsonError(w, "not found", http.StatusNotFound)
			return
		}
		if before.Enabled {
			s.publish(r.Context(), pubsub.ActionDisconnect, before)
		}
		s.json(w, map[string]bool{"success": true})

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// publishDiff implements the exact CONNECT/DISCONNECT/UPDATE decision
// table from the original endpoints.py PUT handler.
func (s *Server) publishDiff(ctx context.Context, result *store.UpdateResult) {
	if action := diffAction(result.Before, result.After); action != "" {
		s.publish(ctx, action, result.After)
	}
}

// diffAction returns the control-plane action an endpoint update calls
// for, or "" when none applies.
func diffAction(before, after *store.Endpoint) pubsub.Action {
	switch {
	case after.Enabled && !before.Enabled:
		return pubsub.ActionConnect
	case !after.Enabled && before.Enabled:
		return pubsub.ActionDisconnect
	case after.Enabled && (before.URL != after.URL || before.Name != after.Name):
		return pubsub.ActionUpdate
	}
	return ""
}

func (s *Server) publish(ctx context.Context, action pubsub.Action, ep *store.Endpoint) {
	if s.pub == nil {
		return
	}
	err := s.pub.Publish(ctx, pubsub.Update{
		Action:   action,
		Endpoint: pubsub.EndpointRef{ID: ep.ID, Name: ep.Name, URL: ep.URL},
	})
	if err != nil {
		log.Printf("adminapi: failed to publish %s for endpoint %s: %v", action, ep.Name, err)
	}
}

func (s *Server) handleEndpointsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func() bool {
		endpoints, err := s.store.ListEndpoints()
		if err != nil {
			log.Printf("adminapi: sse list endpoints: %v", err)
			return true
		}
		payload, _ := json.Marshal(map[string]interface{}{"endpoints": endpoints})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (s *Server) handleBackupEndpoints(w http.ResponseWriter, r *http.Request) {
	backup, err := s.store.BackupEndpoints(s.now().UTC().Format(time.RFC3339))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=mcp_endpoints_backup.json")
	s.json(w, backup)
}

func (s *Server) handleRestoreEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Endpoints []*store.Endpoint `json:"endpoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(body.Endpoints) == 0 {
		s.jsonError(w, "no endpoints data provided", http.StatusBadRequest)
		return
	}

	if err := s.store.RestoreEndpoints(body.Endpoints); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("adminapi: restored %d endpoints from backup", len(body.Endpoints))
	s.json(w, map[string]interface{}{"success": true, "restored": len(body.Endpoints)})
}

// handleMCPTools lists every stored tool-setting override across all
// providers, for the admin UI's manage-tools table.
func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	settings, err := s.store.AllToolSettings()
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.json(w, map[string]interface{}{"settings": settings})
}

// handleMCPToolsCache exposes the hub's raw (unfiltered) per-provider tool
// cache, so the admin UI can show tools that are currently disabled too.
func (s *Server) handleMCPToolsCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil {
		s.json(w, map[string]interface{}{"providers": map[string]interface{}{}})
		return
	}
	s.json(w, map[string]interface{}{"providers": s.hub.RawCache().All()})
}

// handleMCPToolsToggle sets a tool's enabled state. The wire contract uses
// enabled (not disabled) so a request body reads the same way the admin UI's
// toggle switch does.
func (s *Server) handleMCPToolsToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ServerName string `json:"serverName"`
		ToolName   string `json:"toolName"`
		Enabled    bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServerName == "" || body.ToolName == "" {
		s.jsonError(w, "serverName and toolName are required", http.StatusBadRequest)
		return
	}

	existing, _ := s.store.ToolSettingsForProvider(body.ServerName)
	customDescription := ""
	if setting, ok := existing[body.ToolName]; ok {
		customDescription = setting.CustomDescription
	}

	if err := s.store.SetToolSetting(body.ServerName, body.ToolName, !body.Enabled, customDescription); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.json(w, map[string]bool{"success": true})
}

func (s *Server) handleMCPToolsUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ServerName        string `json:"serverName"`
		ToolName          string `json:"toolName"`
		CustomDescription string `json:"customDescription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServerName == "" || body.ToolName == "" {
		s.jsonError(w, "serverName and toolName are required", http.StatusBadRequest)
		return
	}

	existing, _ := s.store.ToolSettingsForProvider(body.ServerName)
	disabled := false
	if setting, ok := existing[body.ToolName]; ok {
		disabled = setting.Disabled
	}

	if err := s.store.SetToolSetting(body.ServerName, body.ToolName, disabled, body.CustomDescription); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.json(w, map[string]bool{"success": true})
}

func (s *Server) handleMCPToolsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ServerName string `json:"serverName"`
		ToolName   string `json:"toolName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServerName == "" || body.ToolName == "" {
		s.jsonError(w, "serverName and toolName are required", http.StatusBadRequest)
		return
	}
	if err := s.store.ResetToolSetting(body.ServerName, body.ToolName); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.json(w, map[string]bool{"success": true})
}

func (s *Server) handleMCPToolsBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := s.store.BackupToolSettings(s.now().UTC().Format(time.RFC3339))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=mcp_tools_backup.json")
	s.json(w, backup)
}

func (s *Server) handleMCPToolsRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Settings []store.ToolSetting `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.store.RestoreToolSettings(body.Settings); err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("adminapi: restored %d tool settings from backup", len(body.Settings))
	s.json(w, map[string]interface{}{"success": true, "restored": len(body.Settings)})
}

// handleMCPToolsRefresh re-requests tools/list from one provider (or every
// connected provider if none is given), used when a provider's tool set
// has changed without a reconnect.
func (s *Server) handleMCPToolsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hub == nil {
		s.jsonError(w, "hub not available", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		ServerName string `json:"serverName"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body.ServerName == "" {
		s.hub.RequestToolsRefreshAll()
		s.json(w, map[string]bool{"success": true})
		return
	}

	if err := s.hub.RequestToolsRefresh(body.ServerName); err != nil {
		s.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.json(w, map[string]bool{"success": true})
}

func (s *Server) json(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
