// Package hub implements the aggregating hub (C7): a WebSocket server that
// providers (one per bridge) and frontends both connect to. It aggregates
// every provider's tool list into one flat catalogue, resolving name
// conflicts, and routes tools/call requests to the provider that owns the
// requested tool, delivering the result back to the originating frontend
// only.
//
// Adapted from the original system's websocket_hub.py, but deliberately
// not replicating its module-level hub singleton: the Hub here is an
// explicit struct constructed once in cmd/mcpbridge and passed into the
// HTTP handlers.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/calobozan/mcpbridge/internal/filter"
	"github.com/calobozan/mcpbridge/internal/store"
)

const protocolVersion = "2024-11-05"

// toolsListRefreshCeiling bounds how long a frontend tools/list call waits
// for connected providers to answer a fresh refresh before aggregating
// whatever has arrived so far.
const toolsListRefreshCeiling = 3 * time.Second

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolsListResult struct {
	Tools []filter.Tool `json:"tools"`
}

type callParams struct {
	Name string `json:"name"`
}

// providerConn is one registered provider's WebSocket connection.
type providerConn struct {
	name string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *providerConn) send(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

// browserConn is one connected frontend's WebSocket connection.
type browserConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (b *browserConn) send(v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(v)
}

type pendingCall struct {
	browser    *browserConn
	originalID json.RawMessage
}

// Hub is the explicit, constructed aggregating hub.
type Hub struct {
	upgrader websocket.Upgrader
	wsToken  string
	store    *store.Store
	rawCache *filter.RawCache
	registry *Registry

	mu             sync.RWMutex
	providers      map[string]*providerConn
	browsers       map[*browserConn]struct{}
	pendingInits   map[string]bool
	pendingCalls   map[string]pendingCall
	refreshWaiters map[string][]chan struct{}
}

// New constructs a Hub. st may be nil in tests that don't need tool
// settings persistence.
func New(wsToken string, st *store.Store) *Hub {
	return &Hub{
		upgrader:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		wsToken:        wsToken,
		store:          st,
		rawCache:       filter.NewRawCache(),
		registry:       NewRegistry(),
		providers:      map[string]*providerConn{},
		browsers:       map[*browserConn]struct{}{},
		pendingInits:   map[string]bool{},
		pendingCalls:   map[string]pendingCall{},
		refreshWaiters: map[string][]chan struct{}{},
	}
}

// RawCache exposes the unfiltered per-provider tool cache, for the admin
// API's tool-management view.
func (h *Hub) RawCache() *filter.RawCache { return h.rawCache }

// ServeHTTP dispatches to the provider or frontend role based on path and
// query parameters, matching handle_connection's base_path == "/mcp" (or a
// "server" query param) check.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	isProvider := strings.HasPrefix(r.URL.Path, "/mcp") || q.Get("server") != ""

	if isProvider {
		h.serveProvider(w, r, q.Get("server"), q.Get("token"))
		return
	}
	h.serveBrowser(w, r)
}

func (h *Hub) serveProvider(w http.ResponseWriter, r *http.Request, name, token string) {
	if name == "" {
		name = "unknown"
	}
	if h.wsToken != "" && token != h.wsToken {
		log.Printf("hub: rejecting provider %q: invalid token", name)
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed for provider %q: %v", name, err)
		return
	}
	defer conn.Close()

	pc := &providerConn{name: name, conn: conn}
	h.registerProvider(pc)
	defer h.unregisterProvider(pc)

	h.initializeProvider(pc)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleProviderMessage(pc, data)
	}
}

func (h *Hub) serveBrowser(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed for browser: %v", err)
		return
	}
	defer conn.Close()

	bc := &browserConn{conn: conn}
	h.registerBrowser(bc)
	defer h.unregisterBrowser(bc)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleBrowserMessage(bc, data)
	}
}

func (h *Hub) registerProvider(pc *providerConn) {
	h.mu.Lock()
	h.providers[pc.name] = pc
	h.mu.Unlock()
	log.Printf("hub: provider connected: %s", pc.name)
	h.broadcastStatus()
}

func (h *Hub) unregisterProvider(pc *providerConn) {
	h.mu.Lock()
	delete(h.providers, pc.name)
	h.mu.Unlock()
	h.notifyRefreshWaiters(pc.name)
	h.registry.RemoveProvider(pc.name)
	h.rawCache.Remove(pc.name)
	log.Printf("hub: provider disconnected: %s", pc.name)
	h.broadcastStatus()
}

func (h *Hub) registerBrowser(bc *browserConn) {
	h.mu.Lock()
	h.browsers[bc] = struct{}{}
	h.mu.Unlock()
	h.sendStatus(bc)
}

func (h *Hub) unregisterBrowser(bc *browserConn) {
	h.mu.Lock()
	delete(h.browsers, bc)
	h.mu.Unlock()
}

func (h *Hub) sendStatus(bc *browserConn) {
	h.mu.RLock()
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	h.mu.RUnlock()

	_ = bc.send(map[string]interface{}{
		"type":          "status",
		"mcp_connected": len(names) > 0,
		"mcp_servers":   names,
	})
}

func (h *Hub) broadcastStatus() {
	h.mu.RLock()
	conns := make([]*browserConn, 0, len(h.browsers))
	for bc := range h.browsers {
		conns = append(conns, bc)
	}
	h.mu.RUnlock()

	for _, bc := range conns {
		h.sendStatus(bc)
	}
}

func (h *Hub) initializeProvider(pc *providerConn) {
	h.mu.Lock()
	h.pendingInits[pc.name] = true
	h.mu.Unlock()

	initID, _ := json.Marshal("hub_init_" + pc.name)
	req := rpcMessage{
		JSONRPC: "2.0",
		ID:      initID,
		Method:  "initialize",
		Params: mustJSON(map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo":      map[string]interface{}{"name": "MCP Hub", "version": "1.0.0"},
		}),
	}
	if err := pc.send(req); err != nil {
		log.Printf("hub: failed to send initialize to %q: %v", pc.name, err)
		h.mu.Lock()
		delete(h.pendingInits, pc.name)
		h.mu.Unlock()
	}
}

func (h *Hub) handleProviderMessage(pc *providerConn, data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	idStr := rawIDString(msg.ID)

	switch {
	case idStr == "hub_init_"+pc.name && msg.Result != nil:
		h.mu.Lock()
		delete(h.pendingInits, pc.name)
		h.mu.Unlock()

		_ = pc.send(rpcMessage{JSONRPC: "2.0", Method: "notifications/initialized", Params: mustJSON(map[string]interface{}{})})

		toolsID, _ := json.Marshal("hub_tools_" + pc.name)
		_ = pc.send(rpcMessage{JSONRPC: "2.0", ID: toolsID, Method: "tools/list", Params: mustJSON(map[string]interface{}{})})
		return

	case msg.Result != nil:
		var result toolsListResult
		if err := json.Unmarshal(msg.Result, &result); err == nil && result.Tools != nil {
			h.applyProviderTools(pc.name, result.Tools)
			return
		}

		if pending, ok := h.takePendingCall(idStr); ok {
			msg.ID = pending.originalID
			_ = pending.browser.send(msg)
			return
		}

	case msg.Error != nil:
		if pending, ok := h.takePendingCall(idStr); ok {
			msg.ID = pending.originalID
			_ = pending.browser.send(msg)
			return
		}
	}

	h.broadcastToBrowsers(data)
}

func (h *Hub) applyProviderTools(provider string, tools []filter.Tool) {
	h.rawCache.Put(provider, tools)

	var policy filter.Policy
	if h.store != nil {
		settings, err := h.store.ToolSettingsForProvider(provider)
		if err == nil {
			policy = filter.Policy{}
			for name, s := range settings {
				policy[name] = filter.Setting{Disabled: s.Disabled, CustomDescription: s.CustomDescription}
			}
		}
	}

	filtered := filter.Apply(provider, tools, policy, false)
	h.registry.SetProviderTools(provider, filtered)
	log.Printf("hub: cached %d filtered tools from %s", len(filtered), provider)
	h.notifyRefreshWaiters(provider)
}

// registerRefreshWaiter records ch as wanting to know the next time
// provider's tool list arrives, used by refreshAllProvidersAndWait.
func (h *Hub) registerRefreshWaiter(provider string, ch chan struct{}) {
	h.mu.Lock()
	h.refreshWaiters[provider] = append(h.refreshWaiters[provider], ch)
	h.mu.Unlock()
}

// notifyRefreshWaiters wakes every waiter registered for provider.
func (h *Hub) notifyRefreshWaiters(provider string) {
	h.mu.Lock()
	chans := h.refreshWaiters[provider]
	delete(h.refreshWaiters, provider)
	h.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// refreshAllProvidersAndWait re-issues tools/list to every connected
// provider with a fresh id and waits up to ceiling for each to answer,
// so a frontend tools/list sees freshly reported tools rather than
// whatever was cached at connect time. A slow or unresponsive provider
// only costs the remaining budget of the shared ceiling — the rest of the
// pass still aggregates on time with partial results.
func (h *Hub) refreshAllProvidersAndWait(ceiling time.Duration) {
	h.mu.RLock()
	providers := make([]*providerConn, 0, len(h.providers))
	for _, pc := range h.providers {
		providers = append(providers, pc)
	}
	h.mu.RUnlock()

	if len(providers) == 0 {
		return
	}

	waiters := make([]chan struct{}, 0, len(providers))
	for _, pc := range providers {
		ch := make(chan struct{})
		h.registerRefreshWaiter(pc.name, ch)
		waiters = append(waiters, ch)

		toolsID, _ := json.Marshal("hub_refresh_" + pc.name + "_" + uuid.NewString())
		if err := pc.send(rpcMessage{JSONRPC: "2.0", ID: toolsID, Method: "tools/list", Params: mustJSON(map[string]interface{}{})}); err != nil {
			log.Printf("hub: tools/list refresh request failed for %s: %v", pc.name, err)
		}
	}

	deadline := time.Now().Add(ceiling)
	for _, ch := range waiters {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Printf("hub: tools/list refresh hit its %s ceiling, aggregating with partial results", ceiling)
			return
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			log.Printf("hub: tools/list refresh hit its %s ceiling, aggregating with partial results", ceiling)
			return
		}
	}
}

func (h *Hub) takePendingCall(id string) (pendingCall, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pendingCalls[id]
	if ok {
		delete(h.pendingCalls, id)
	}
	return p, ok
}

func (h *Hub) broadcastToBrowsers(data []byte) {
	h.mu.RLock()
	conns := make([]*browserConn, 0, len(h.browsers))
	for bc := range h.browsers {
		conns = append(conns, bc)
	}
	h.mu.RUnlock()

	for _, bc := range conns {
		bc.mu.Lock()
		_ = bc.conn.WriteMessage(websocket.TextMessage, data)
		bc.mu.Unlock()
	}
}

func (h *Hub) handleBrowserMessage(bc *browserConn, data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Method {
	case "initialize":
		_ = bc.send(rpcMessage{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Result: mustJSON(map[string]interface{}{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]interface{}{},
				"serverInfo":      map[string]interface{}{"name": "MCP Hub", "version": "1.0.0"},
			}),
		})
		return

	case "notifications/initialized":
		return

	case "tools/list":
		h.refreshAllProvidersAndWait(toolsListRefreshCeiling)
		tools := h.registry.Aggregate()
		_ = bc.send(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Result: mustJSON(toolsListResult{Tools: tools})})
		return

	case "tools/call":
		h.routeToolCall(bc, msg)
		return
	}

	// Anything else (notifications, progress, etc.) is broadcast to every
	// connected provider, matching the original's default forwarding path.
	h.mu.RLock()
	providers := make([]*providerConn, 0, len(h.providers))
	for _, pc := range h.providers {
		providers = append(providers, pc)
	}
	h.mu.RUnlock()

	if len(providers) == 0 {
		_ = bc.send(rpcMessage{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &rpcError{Code: -32000, Message: "MCP tool not connected"},
		})
		return
	}
	for _, pc := range providers {
		_ = pc.send(json.RawMessage(data))
	}
}

func (h *Hub) routeToolCall(bc *browserConn, msg rpcMessage) {
	var params callParams
	_ = json.Unmarshal(msg.Params, &params)

	if params.Name == "" {
		_ = bc.send(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: &rpcError{Code: -32602, Message: "missing tool name"}})
		return
	}

	provider, ok := h.registry.Owner(params.Name)
	if !ok {
		log.Printf("hub: tool %q not found in registry", params.Name)
		_ = bc.send(rpcMessage{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &rpcError{Code: -32601, Message: fmt.Sprintf("Tool '%s' not found", params.Name)},
		})
		return
	}

	h.mu.RLock()
	pc, ok := h.providers[provider]
	h.mu.RUnlock()
	if !ok {
		_ = bc.send(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: &rpcError{Code: -32000, Message: "provider not connected"}})
		return
	}

	rewrittenID := "call_" + uuid.NewString()
	h.mu.Lock()
	h.pendingCalls[rewrittenID] = pendingCall{browser: bc, originalID: msg.ID}
	h.mu.Unlock()

	idJSON, _ := json.Marshal(rewrittenID)
	forwarded := msg
	forwarded.ID = idJSON

	if err := pc.send(forwarded); err != nil {
		log.Printf("hub: error forwarding tools/call to %s: %v", provider, err)
		h.takePendingCall(rewrittenID)
		_ = bc.send(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: &rpcError{Code: -32000, Message: "failed to reach provider"}})
	}
}

// RequestToolsRefresh re-sends a tools/list request to one connected
// provider, used by the admin API's /mcp-tools/refresh route.
func (h *Hub) RequestToolsRefresh(provider string) error {
	h.mu.RLock()
	pc, ok := h.providers[provider]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider %q not connected", provider)
	}

	toolsID, _ := json.Marshal("hub_tools_" + provider)
	return pc.send(rpcMessage{JSONRPC: "2.0", ID: toolsID, Method: "tools/list", Params: mustJSON(map[string]interface{}{})})
}

// RequestToolsRefreshAll re-requests tools/list from every connected
// provider.
func (h *Hub) RequestToolsRefreshAll() {
	h.mu.RLock()
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	h.mu.RUnlock()

	for _, name := range names {
		if err := h.RequestToolsRefresh(name); err != nil {
			log.Printf("hub: refresh request failed for %s: %v", name, err)
		}
	}
}

func rawIDString(id json.RawMessage) string {
	if len(id) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
