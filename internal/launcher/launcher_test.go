package launcher

import (
	"testing"

	"github.com/calobozan/mcpbridge/internal/providerconfig"
)

func TestBuildStdio(t *testing.T) {
	cmd, err := Build("weather", providerconfig.Entry{Command: "weather-mcp", Args: []string{"--flag"}}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cmd.Args[0] != "weather-mcp" || cmd.Args[1] != "--flag" {
		t.Errorf("unexpected args: %v", cmd.Args)
	}
}

func TestBuildStdioMissingCommand(t *testing.T) {
	_, err := Build("weather", providerconfig.Entry{}, "")
	if err == nil {
		t.Fatal("expected an error for a stdio entry with no command")
	}
}

func TestBuildHTTPRequiresProxyBin(t *testing.T) {
	_, err := Build("weather", providerconfig.Entry{Type: "sse", URL: "https://weather.example/sse"}, "")
	if err == nil {
		t.Fatal("expected an error when HTTP_PROXY_BIN is unset")
	}
}

func TestBuildHTTPRequiresURL(t *testing.T) {
	_, err := Build("weather", providerconfig.Entry{Type: "sse"}, "/usr/local/bin/mcp-proxy")
	if err == nil {
		t.Fatal("expected an error for an http-kind entry with no url")
	}
}

func TestBuildHTTPUsesStreamableHTTPTransportFlag(t *testing.T) {
	cmd, err := Build("weather", providerconfig.Entry{Type: "http", URL: "https://weather.example/mcp", Headers: map[string]string{"X-Key": "secret"}}, "/usr/local/bin/mcp-proxy")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	found := false
	for i, a := range cmd.Args {
		if a == "--transport" && i+1 < len(cmd.Args) && cmd.Args[i+1] == "streamablehttp" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected --transport streamablehttp in args, got %v", cmd.Args)
	}
}

func TestBuildDisabledProviderRejected(t *testing.T) {
	_, err := Build("weather", providerconfig.Entry{Command: "weather-mcp", Disabled: true}, "")
	if err == nil {
		t.Fatal("expected an error for a disabled provider")
	}
}
