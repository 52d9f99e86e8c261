package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/dsp/internal/backend"
)

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

func TestMCPAsk(t *testing.T) {
	deps := MCPDeps{
		Runner: &mockRunner{resp: AskResponse{Answer: "Paris"}},
		RM:     &mockRM{},
	}
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "What is the capital of France?",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Paris" {
		t.Errorf("answer = %q, want Paris", got)
	}
}

func TestMCPAsk_MissingQuestion(t *testing.T) {
	deps := MCPDeps{Runner: &mockRunner{}, RM: &mockRM{}}
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing question")
	}
}

func TestMCPAsk_PipelineFailure(t *testing.T) {
	deps := MCPDeps{
		Runner: &mockRunner{err: errors.New("backend down")},
		RM:     &mockRM{},
	}
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "q",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for pipeline failure")
	}
}

func TestMCPSearchCorpus(t *testing.T) {
	deps := MCPDeps{
		Runner: &mockRunner{},
		RM: &mockRM{passages: []backend.Passage{
			{Text: "Paris is the capital of France.", Title: "France", Score: 0.91},
		}},
	}
	handler := mcpSearchCorpus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_corpus", map[string]interface{}{
		"query": "capital of France",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var results []searchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Title != "France" {
		t.Errorf("title = %q, want France", results[0].Title)
	}
}

func TestMCPSearchCorpus_Empty(t *testing.T) {
	deps := MCPDeps{Runner: &mockRunner{}, RM: &mockRM{}}
	handler := mcpSearchCorpus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_corpus", map[string]interface{}{
		"query": "nothing stored",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("result = %q, want []", got)
	}
}

func TestMCPResourceStats(t *testing.T) {
	deps := MCPDeps{
		Runner:      &mockRunner{},
		RM:          &mockRM{},
		CorpusCount: func() (int, error) { return 42, nil },
	}
	handler := mcpResourceStats(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "corpus://stats"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var stats map[string]int
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats["passages"] != 42 {
		t.Errorf("passages = %d, want 42", stats["passages"])
	}
}
