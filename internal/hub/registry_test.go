package hub

import (
	"testing"

	"github.com/calobozan/mcpbridge/internal/filter"
)

func TestAggregateFirstSeenWinsBareName(t *testing.T) {
	r := NewRegistry()
	r.SetProviderTools("weather", []filter.Tool{{Name: "search", Description: "weather search"}})
	r.SetProviderTools("docs", []filter.Tool{{Name: "search", Description: "doc search"}})

	tools := r.Aggregate()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d: %+v", len(tools), tools)
	}

	byName := map[string]filter.Tool{}
	for _, tool := range tools {
		byName[tool.Name] = tool
	}

	bare, ok := byName["search"]
	if !ok {
		t.Fatalf("expected one provider to keep the bare name 'search'")
	}
	if owner, _ := r.Owner("search"); owner != "weather" {
		t.Errorf("expected the first-registered provider to keep the bare name, owner = %q, want %q", owner, "weather")
	}

	prefixed, ok := byName["docs.search"]
	if !ok {
		t.Fatalf("expected the later-registered provider's tool to be renamed 'docs.search', got %+v", byName)
	}
	if owner, ok := r.Owner("docs.search"); !ok || owner != "docs" {
		t.Errorf("expected docs.search to be owned by docs, got %q", owner)
	}
	_ = prefixed

	for _, tool := range tools {
		if tool.Description == "" || tool.Description[0] != '[' {
			t.Errorf("expected every admitted tool to carry a [provider] description prefix, got %q", tool.Description)
		}
	}
	_ = bare
}

func TestAggregateOrderIsStableAcrossRepeatedCalls(t *testing.T) {
	r := NewRegistry()
	r.SetProviderTools("docs", []filter.Tool{{Name: "search", Description: "doc search"}})
	r.SetProviderTools("weather", []filter.Tool{{Name: "search", Description: "weather search"}})

	for i := 0; i < 3; i++ {
		tools := r.Aggregate()
		owner, ok := r.Owner("search")
		if !ok || owner != "docs" {
			t.Fatalf("pass %d: expected first-registered provider 'docs' to keep the bare name, owner = %q", i, owner)
		}
		if len(tools) != 2 {
			t.Fatalf("pass %d: expected 2 tools, got %d", i, len(tools))
		}
	}

	// Re-registering "docs" (e.g. a tools/list refresh) must not move it to
	// the back of the order and hand the bare name to "weather".
	r.SetProviderTools("docs", []filter.Tool{{Name: "search", Description: "doc search v2"}})
	r.Aggregate()
	if owner, _ := r.Owner("search"); owner != "docs" {
		t.Errorf("expected docs to retain the bare name after a refresh, owner = %q", owner)
	}
}

func TestAggregateNoConflictKeepsBareName(t *testing.T) {
	r := NewRegistry()
	r.SetProviderTools("weather", []filter.Tool{{Name: "get_weather", Description: "fetch weather"}})

	tools := r.Aggregate()
	if len(tools) != 1 || tools[0].Name != "get_weather" {
		t.Fatalf("expected single unconflicted tool to keep its bare name, got %+v", tools)
	}
	if tools[0].Description != "[weather] fetch weather" {
		t.Errorf("expected description prefix, got %q", tools[0].Description)
	}
}

func TestRemoveProviderClearsOwnership(t *testing.T) {
	r := NewRegistry()
	r.SetProviderTools("weather", []filter.Tool{{Name: "get_weather"}})
	r.Aggregate()

	r.RemoveProvider("weather")
	tools := r.Aggregate()
	if len(tools) != 0 {
		t.Fatalf("expected no tools after provider removal, got %+v", tools)
	}
	if _, ok := r.Owner("get_weather"); ok {
		t.Error("expected owner lookup to fail after provider removal")
	}
}
