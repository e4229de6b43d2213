package pubsub

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	upd := Update{
		Action:   ActionConnect,
		Endpoint: EndpointRef{ID: 1, Name: "weather", URL: "wss://weather.example/mcp"},
	}
	env := envelope{Event: "update", Data: upd}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != "update" || decoded.Data.Action != ActionConnect || decoded.Data.Endpoint.Name != "weather" {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}

func TestActionConstantsMatchControlPlaneVocabulary(t *testing.T) {
	if ActionConnect != "CONNECT" || ActionDisconnect != "DISCONNECT" || ActionUpdate != "UPDATE" {
		t.Errorf("unexpected action constants: %q %q %q", ActionConnect, ActionDisconnect, ActionUpdate)
	}
}
