package store

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetEndpoint(t *testing.T) {
	s := newTestStore(t)

	e, err := s.AddEndpoint("office", "wss://hub.example/mcp", true)
	if err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	if e.ID == 0 {
		t.Fatalf("expected non-zero id")
	}

	got, err := s.GetEndpoint(e.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if got.Name != "office" || got.URL != "wss://hub.example/mcp" || !got.Enabled {
		t.Errorf("unexpected endpoint: %+v", got)
	}
}

func TestAddEndpointRequiresNameAndURL(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddEndpoint("", "wss://hub.example/mcp", true); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.AddEndpoint("office", "", true); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestUpdateEndpointReportsBeforeAndAfter(t *testing.T) {
	s := newTestStore(t)
	e, _ := s.AddEndpoint("office", "wss://hub.example/mcp", false)

	result, err := s.UpdateEndpoint(e.ID, "office", "wss://hub.example/mcp", true)
	if err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	if result.Before.Enabled {
		t.Error("expected before.Enabled == false")
	}
	if !result.After.Enabled {
		t.Error("expected after.Enabled == true")
	}
}

func TestDeleteEndpointReturnsPriorState(t *testing.T) {
	s := newTestStore(t)
	e, _ := s.AddEndpoint("office", "wss://hub.example/mcp", true)

	before, err := s.DeleteEndpoint(e.ID)
	if err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}
	if !before.Enabled {
		t.Error("expected prior state to report enabled=true")
	}

	if _, err := s.GetEndpoint(e.ID); err == nil {
		t.Error("expected endpoint to be gone after delete")
	}
}

func TestToolSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetToolSetting("weather", "get_weather", true, "Check forecast"); err != nil {
		t.Fatalf("SetToolSetting: %v", err)
	}

	settings, err := s.ToolSettingsForProvider("weather")
	if err != nil {
		t.Fatalf("ToolSettingsForProvider: %v", err)
	}
	got, ok := settings["get_weather"]
	if !ok {
		t.Fatalf("expected setting for get_weather")
	}
	if !got.Disabled || got.CustomDescription != "Check forecast" {
		t.Errorf("unexpected setting: %+v", got)
	}

	if err := s.ResetToolSetting("weather", "get_weather"); err != nil {
		t.Fatalf("ResetToolSetting: %v", err)
	}
	settings, _ = s.ToolSettingsForProvider("weather")
	if _, ok := settings["get_weather"]; ok {
		t.Error("expected setting to be removed after reset")
	}
}

func TestUpdateStatusToConnectedStampsLastConnectedAtAndClearsError(t *testing.T) {
	s := newTestStore(t)
	e, _ := s.AddEndpoint("office", "wss://hub.example/mcp", true)

	if err := s.UpdateStatus(e.ID, "backoff", "dial tcp: connection refused"); err != nil {
		t.Fatalf("UpdateStatus(backoff): %v", err)
	}
	got, _ := s.GetEndpoint(e.ID)
	if got.LastError == "" {
		t.Fatalf("expected last_error to be recorded while backing off")
	}
	if got.LastConnectedAt != 0 {
		t.Fatalf("expected last_connected_at to remain unset before any successful connection, got %d", got.LastConnectedAt)
	}

	if err := s.UpdateStatus(e.ID, "connected", ""); err != nil {
		t.Fatalf("UpdateStatus(connected): %v", err)
	}
	got, _ = s.GetEndpoint(e.ID)
	if got.Status != "connected" {
		t.Errorf("status = %q, want connected", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("expected last_error to be cleared on connect, got %q", got.LastError)
	}
	if got.LastConnectedAt == 0 {
		t.Error("expected last_connected_at to be stamped on connect")
	}
}

func TestUpdateStatusNonConnectedLeavesLastConnectedAtAlone(t *testing.T) {
	s := newTestStore(t)
	e, _ := s.AddEndpoint("office", "wss://hub.example/mcp", true)

	if err := s.UpdateStatus(e.ID, "connected", ""); err != nil {
		t.Fatalf("UpdateStatus(connected): %v", err)
	}
	afterConnect, _ := s.GetEndpoint(e.ID)

	if err := s.UpdateStatus(e.ID, "backoff", "connection dropped"); err != nil {
		t.Fatalf("UpdateStatus(backoff): %v", err)
	}
	afterDrop, _ := s.GetEndpoint(e.ID)

	if afterDrop.LastConnectedAt != afterConnect.LastConnectedAt {
		t.Errorf("expected last_connected_at to survive a later non-connected transition, got %d want %d", afterDrop.LastConnectedAt, afterConnect.LastConnectedAt)
	}
	if afterDrop.LastError != "connection dropped" {
		t.Errorf("expected last_error to be recorded, got %q", afterDrop.LastError)
	}
}

func TestBackupRestoreEndpoints(t *testing.T) {
	s := newTestStore(t)
	s.AddEndpoint("office", "wss://hub.example/mcp", true)
	s.AddEndpoint("home", "wss://home.example/mcp", false)

	backup, err := s.BackupEndpoints("2026-07-31T00:00:00Z")
	if err != nil {
		t.Fatalf("BackupEndpoints: %v", err)
	}
	if len(backup.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints in backup, got %d", len(backup.Endpoints))
	}

	if err := s.RestoreEndpoints(backup.Endpoints); err != nil {
		t.Fatalf("RestoreEndpoints: %v", err)
	}

	restored, err := s.ListEndpoints()
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 endpoints after restore, got %d", len(restored))
	}
}
