package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/generate"
	"github.com/kalambet/sectiond/internal/sections"
	"github.com/kalambet/sectiond/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, completer *fakeCompleter) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Service: generate.NewService(completer, cache.New(), store, nil),
		Store:   store,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_AssembleSections(t *testing.T) {
	handler := mcpAssemble()

	result, err := handler(context.Background(), makeCallToolRequest("assemble_sections", map[string]interface{}{
		"text": `[{"title":"Goals","content":"Grow"},{"title":"Risks","content":"Cash"}]`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var secs []sections.Section
	if err := json.Unmarshal([]byte(toolText(t, result)), &secs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(secs) != 2 || secs[0].Title != "Goals" || secs[1].Content != "Cash" {
		t.Fatalf("sections = %+v", secs)
	}
}

func TestMCPTool_AssembleSections_Delimited(t *testing.T) {
	handler := mcpAssemble()

	result, _ := handler(context.Background(), makeCallToolRequest("assemble_sections", map[string]interface{}{
		"text":      "###TIMELINE###\nsix weeks",
		"delimited": true,
	}))
	var secs []sections.Section
	json.Unmarshal([]byte(toolText(t, result)), &secs)
	if len(secs) != 1 || secs[0].ID != "timeline" || secs[0].Content != "six weeks" {
		t.Fatalf("sections = %+v", secs)
	}
}

func TestMCPTool_AssembleSections_MissingText(t *testing.T) {
	result, err := mcpAssemble()(context.Background(), makeCallToolRequest("assemble_sections", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_CacheKey(t *testing.T) {
	handler := mcpCacheKey()

	result, err := handler(context.Background(), makeCallToolRequest("cache_key", map[string]interface{}{
		"namespace": "diagnosis",
		"payload":   `{"q": 1}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "diagnosis_-1427377650" {
		t.Errorf("key = %q", got)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("cache_key", map[string]interface{}{
		"namespace": "diagnosis",
		"payload":   `{bad`,
	}))
	if !result.IsError {
		t.Error("expected tool error for invalid payload")
	}
}

func TestMCPTool_Generate(t *testing.T) {
	completer := &fakeCompleter{text: diagnosisOutput}
	deps, store := newTestMCPDeps(t, completer)
	handler := mcpGenerate(deps)

	req := makeCallToolRequest("generate", map[string]interface{}{
		"operation": "diagnosis",
		"payload":   `{"client":"acme"}`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res generate.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if res.Cached || len(res.Sections) != 4 {
		t.Errorf("result = %+v", res)
	}
	if _, err := store.GetGeneration(res.GenerationID); err != nil {
		t.Errorf("generation not stored: %v", err)
	}

	result, _ = handler(context.Background(), req)
	json.Unmarshal([]byte(toolText(t, result)), &res)
	if !res.Cached {
		t.Error("second call should be served from cache")
	}
	if completer.count() != 1 {
		t.Errorf("completer calls = %d, want 1", completer.count())
	}
}

func TestMCPTool_Generate_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{err: errors.New("rate limited")})
	handler := mcpGenerate(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("generate", map[string]interface{}{
		"operation": "diagnosis",
		"payload":   `{"q":1}`,
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "rate limited") {
		t.Errorf("upstream result = %+v", result)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("generate", map[string]interface{}{
		"operation": "missing",
		"payload":   `{"q":1}`,
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "unknown operation") {
		t.Errorf("unknown op result = %+v", result)
	}
}

func TestMCPResource_Operations(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})

	contents, err := mcpResourceOperations(deps)(context.Background(), makeReadResourceRequest("sectiond://operations"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	for _, name := range []string{"diagnosis", "proposal", "response"} {
		if !strings.Contains(tc.Text, `"name":"`+name+`"`) {
			t.Errorf("operations resource missing %s", name)
		}
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{text: diagnosisOutput})

	if _, err := deps.Service.Generate(context.Background(), generate.Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("sectiond://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)

	var recent []struct {
		Operation string   `json:"operation"`
		Titles    []string `json:"titles"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &recent); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(recent) != 1 || recent[0].Operation != "diagnosis" || len(recent[0].Titles) != 4 {
		t.Errorf("recent = %+v", recent)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	deps.Store = nil
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer without store returned nil")
	}
}
