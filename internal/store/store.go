// Package store provides the SQLite-backed endpoint store: the set of
// configured endpoints and the per-provider tool settings overlay, plus
// backup/restore for both.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Endpoint is a single configured hub endpoint.
type Endpoint struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Enabled         bool   `json:"enabled"`
	Status          string `json:"status"`
	LastError       string `json:"last_error,omitempty"`
	LastConnectedAt int64  `json:"last_connected_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// statusConnected mirrors bridge.StatusConnected as a plain string, so the
// store does not depend on the bridge package; the bridge status callback
// that writes into the store is wired up in cmd/mcpbridge.
const statusConnected = "connected"

// ToolSetting is the stored override for one (provider, tool) pair.
type ToolSetting struct {
	ProviderName      string `json:"provider_name"`
	ToolName          string `json:"tool_name"`
	Disabled          bool   `json:"disabled"`
	CustomDescription string `json:"custom_description,omitempty"`
	UpdatedAt         int64  `json:"updated_at"`
}

// Store manages endpoints and tool_settings in a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if necessary) the endpoint store at
// {baseDir}/endpoints.db.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	dbPath := filepath.Join(baseDir, "endpoints.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS endpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'disconnected',
		last_error TEXT NOT NULL DEFAULT '',
		last_connected_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tool_settings (
		provider_name TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		disabled INTEGER NOT NULL DEFAULT 0,
		custom_description TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (provider_name, tool_name)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// AddEndpoint inserts a new endpoint.
func (s *Store) AddEndpoint(name, url string, enabled bool) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" || url == "" {
		return nil, fmt.Errorf("name and url are required")
	}

	now := time.Now().Unix()
	res, err := s.db.Exec(
		`INSERT INTO endpoints (name, url, enabled, status, last_error, last_connected_at, created_at, updated_at)
		 VALUES (?, ?, ?, 'disconnected', '', 0, ?, ?)`,
		name, url, boolToInt(enabled), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert endpoint: %w", err)
	}
	id, _ := res.LastInsertId()

	return &Endpoint{
		ID: id, Name: name, URL: url, Enabled: enabled,
		Status: "disconnected", CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetEndpoint returns a single endpoint by ID.
func (s *Store) GetEndpoint(id int64) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEndpointLocked(id)
}

func (s *Store) getEndpointLocked(id int64) (*Endpoint, error) {
	var e Endpoint
	var enabled int
	err := s.db.QueryRow(
		`SELECT id, name, url, enabled, status, last_error, last_connected_at, created_at, updated_at FROM endpoints WHERE id = ?`,
		id,
	).Scan(&e.ID, &e.Name, &e.URL, &enabled, &e.Status, &e.LastError, &e.LastConnectedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("endpoint not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query endpoint: %w", err)
	}
	e.Enabled = enabled != 0
	return &e, nil
}

// GetEndpointByName returns a single endpoint by its unique name, used by
// the control plane to map a bridge status callback (keyed by endpoint
// name) back to a row to update.
func (s *Store) GetEndpointByName(name string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Endpoint
	var enabled int
	err := s.db.QueryRow(
		`SELECT id, name, url, enabled, status, last_error, last_connected_at, created_at, updated_at FROM endpoints WHERE name = ?`,
		name,
	).Scan(&e.ID, &e.Name, &e.URL, &enabled, &e.Status, &e.LastError, &e.LastConnectedAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("endpoint not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("query endpoint: %w", err)
	}
	e.Enabled = enabled != 0
	return &e, nil
}

// ListEndpoints returns every configured endpoint.
func (s *Store) ListEndpoints() ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, name, url, enabled, status, last_error, last_connected_at, created_at, updated_at FROM endpoints ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var out []*Endpoint
	for rows.Next() {
		var e Endpoint
		var enabled int
		if err := rows.Scan(&e.ID, &e.Name, &e.URL, &enabled, &e.Status, &e.LastError, &e.LastConnectedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		e.Enabled = enabled != 0
		out = append(out, &e)
	}
	return out, nil
}

// UpdateResult reports what changed so callers (the admin API) can decide
// which control-plane event to publish.
type UpdateResult struct {
	Before *Endpoint
	After  *Endpoint
}

// UpdateEndpoint applies a full update and returns both the prior and new
// state so the caller can diff enabled/url/name the way the admin API's
// PUT handler must (spec §4.8).
func (s *Store) UpdateEndpoint(id int64, name, url string, enabled bool) (*UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.getEndpointLocked(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	_, err = s.db.Exec(
		`UPDATE endpoints SET name = ?, url = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		name, url, boolToInt(enabled), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}

	after, err := s.getEndpointLocked(id)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Before: before, After: after}, nil
}

// UpdateStatus sets an endpoint's connection status, matching the
// original's update_endpoint_status calls from the bridge supervisor. A
// transition to connected also stamps last_connected_at and clears any
// prior error, since a freshly connected bridge has none.
func (s *Store) UpdateStatus(id int64, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if status == statusConnected {
		_, err := s.db.Exec(
			`UPDATE endpoints SET status = ?, last_error = '', last_connected_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
		return err
	}

	_, err := s.db.Exec(
		`UPDATE endpoints SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, now, id,
	)
	return err
}

// DeleteEndpoint removes an endpoint, returning its prior state so the
// caller can decide whether to publish a DISCONNECT event.
func (s *Store) DeleteEndpoint(id int64) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.getEndpointLocked(id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM endpoints WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete endpoint: %w", err)
	}
	return before, nil
}

// SetToolSetting upserts a (provider, tool) override.
func (s *Store) SetToolSetting(provider, tool string, disabled bool, customDescription string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO tool_settings (provider_name, tool_name, disabled, custom_description, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(provider_name, tool_name) DO UPDATE SET
		   disabled = excluded.disabled,
		   custom_description = excluded.custom_description,
		   updated_at = excluded.updated_at`,
		provider, tool, boolToInt(disabled), customDescription, time.Now().Unix(),
	)
	return err
}

// ResetToolSetting removes an override, returning the tool to its
// provider-advertised defaults.
func (s *Store) ResetToolSetting(provider, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM tool_settings WHERE provider_name = ? AND tool_name = ?`,
		provider, tool,
	)
	return err
}

// ToolSettingsForProvider returns every override for one provider.
func (s *Store) ToolSettingsForProvider(provider string) (map[string]ToolSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT provider_name, tool_name, disabled, custom_description, updated_at
		 FROM tool_settings WHERE provider_name = ?`,
		provider,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool settings: %w", err)
	}
	defer rows.Close()

	out := map[string]ToolSetting{}
	for rows.Next() {
		var t ToolSetting
		var disabled int
		if err := rows.Scan(&t.ProviderName, &t.ToolName, &disabled, &t.CustomDescription, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool setting: %w", err)
		}
		t.Disabled = disabled != 0
		out[t.ToolName] = t
	}
	return out, nil
}

// AllToolSettings returns every tool setting across all providers, for
// backup.
func (s *Store) AllToolSettings() ([]ToolSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT provider_name, tool_name, disabled, custom_description, updated_at FROM tool_settings`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool settings: %w", err)
	}
	defer rows.Close()

	var out []ToolSetting
	for rows.Next() {
		var t ToolSetting
		var disabled int
		if err := rows.Scan(&t.ProviderName, &t.ToolName, &disabled, &t.CustomDescription, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool setting: %w", err)
		}
		t.Disabled = disabled != 0
		out = append(out, t)
	}
	return out, nil
}

// EndpointBackup is the /backup response shape for endpoints.
type EndpointBackup struct {
	Version    string      `json:"version"`
	ExportedAt string      `json:"exported_at"`
	Endpoints  []*Endpoint `json:"endpoints"`
}

// BackupEndpoints snapshots every endpoint, matching the original's
// delete-then-reinsert restore contract.
func (s *Store) BackupEndpoints(exportedAt string) (*EndpointBackup, error) {
	endpoints, err := s.ListEndpoints()
	if err != nil {
		return nil, err
	}
	return &EndpointBackup{Version: "1.0", ExportedAt: exportedAt, Endpoints: endpoints}, nil
}

// RestoreEndpoints replaces all endpoints with the given set, matching the
// original's "DELETE then re-INSERT" restore semantics.
func (s *Store) RestoreEndpoints(endpoints []*Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM endpoints`); err != nil {
		return fmt.Errorf("clear endpoints: %w", err)
	}

	for _, e := range endpoints {
		if _, err := tx.Exec(
			`INSERT INTO endpoints (id, name, url, enabled, status, last_error, last_connected_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Name, e.URL, boolToInt(e.Enabled), e.Status, e.LastError, e.LastConnectedAt, e.CreatedAt, e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("restore endpoint %s: %w", e.Name, err)
		}
	}

	return tx.Commit()
}

// ToolSettingsBackup is the /mcp-tools/backup response shape.
type ToolSettingsBackup struct {
	Version    string        `json:"version"`
	ExportedAt string        `json:"exported_at"`
	Settings   []ToolSetting `json:"settings"`
}

// BackupToolSettings snapshots every tool override.
func (s *Store) BackupToolSettings(exportedAt string) (*ToolSettingsBackup, error) {
	settings, err := s.AllToolSettings()
	if err != nil {
		return nil, err
	}
	return &ToolSettingsBackup{Version: "1.0", ExportedAt: exportedAt, Settings: settings}, nil
}

// RestoreToolSettings replaces all tool overrides with the given set.
func (s *Store) RestoreToolSettings(settings []ToolSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tool_settings`); err != nil {
		return fmt.Errorf("clear tool settings: %w", err)
	}

	for _, t := range settings {
		if _, err := tx.Exec(
			`INSERT INTO tool_settings (provider_name, tool_name, disabled, custom_description, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			t.ProviderName, t.ToolName, boolToInt(t.Disabled), t.CustomDescription, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("restore tool setting %s/%s: %w", t.ProviderName, t.ToolName, err)
		}
	}

	return tx.Commit()
}

// MarshalBackup is a small helper so callers writing HTTP responses don't
// need to import encoding/json just for this.
func MarshalBackup(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
