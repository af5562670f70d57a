package transcode

import (
	"encoding/json"
	"testing"

	"github.com/hnolan/ccrouter/internal/signature"
)

func simpleRequest(model, text string) *MessagesRequest {
	return &MessagesRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleUser, Content: Content{Text: text}},
		},
	}
}

func TestConvertSimpleRequest(t *testing.T) {
	req := simpleRequest("claude-sonnet-4-5", "Hello")
	got := ToGoogle(req, nil)

	if len(got.Contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(got.Contents))
	}
	if got.Contents[0].Role != "user" {
		t.Errorf("role = %q, want user", got.Contents[0].Role)
	}
	if got.GenerationConfig == nil {
		t.Fatal("expected generation config")
	}
	if *got.GenerationConfig.MaxOutputTokens != 1024 {
		t.Errorf("max_output_tokens = %d, want 1024", *got.GenerationConfig.MaxOutputTokens)
	}
	if got.GenerationConfig.ThinkingConfig != nil {
		t.Error("non-thinking model should have no thinking config")
	}
}

func TestConvertThinkingModelRequest(t *testing.T) {
	req := simpleRequest("claude-opus-4-5-thinking", "Think about this")
	got := ToGoogle(req, nil)

	tc := got.GenerationConfig.ThinkingConfig
	if tc == nil {
		t.Fatal("expected thinking config")
	}
	if !tc.IncludeThoughts {
		t.Error("expected include_thoughts true")
	}
	if tc.ThinkingBudget != 0 {
		t.Errorf("claude thinking config should carry no budget, got %d", tc.ThinkingBudget)
	}
}

func TestConvertGeminiThinkingModel(t *testing.T) {
	req := simpleRequest("gemini-3-flash", "Process this")
	got := ToGoogle(req, nil)

	tc := got.GenerationConfig.ThinkingConfig
	if tc == nil {
		t.Fatal("expected thinking config")
	}
	if !tc.IncludeThoughts {
		t.Error("expected include_thoughts true")
	}
	if tc.ThinkingBudget != 16000 {
		t.Errorf("thinking_budget = %d, want 16000", tc.ThinkingBudget)
	}
}

func TestConvertSystemPrompt(t *testing.T) {
	req := simpleRequest("claude-sonnet-4-5", "Hello")
	req.System = &SystemPrompt{Text: "You are a helpful assistant"}

	got := ToGoogle(req, nil)
	if got.SystemInstruction == nil {
		t.Fatal("expected system instruction")
	}
	// Two identity-injection parts plus the one client-supplied part.
	if len(got.SystemInstruction.Parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(got.SystemInstruction.Parts))
	}
	if got.SystemInstruction.Parts[2].Text != "You are a helpful assistant" {
		t.Errorf("client system text not preserved: %q", got.SystemInstruction.Parts[2].Text)
	}
}

func TestConvertSystemPromptAbsentStillInjectsIdentity(t *testing.T) {
	req := simpleRequest("claude-sonnet-4-5", "Hello")

	got := ToGoogle(req, nil)
	if got.SystemInstruction == nil {
		t.Fatal("identity injection must happen even with no client system prompt")
	}
	if len(got.SystemInstruction.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(got.SystemInstruction.Parts))
	}
}

func TestConvertWithTools(t *testing.T) {
	req := simpleRequest("claude-sonnet-4-5", "Use the tool")
	req.Tools = []Tool{{
		Name:        "get_weather",
		Description: "Get weather for a location",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
	}}

	got := ToGoogle(req, nil)
	if len(got.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(got.Tools))
	}
	decls := got.Tools[0].FunctionDeclarations
	if len(decls) != 1 || decls[0].Name != "get_weather" {
		t.Fatalf("unexpected function declarations: %+v", decls)
	}
}

func TestToolUseInHistoryGetsSkipSignatureForGemini(t *testing.T) {
	req := simpleRequest("gemini-3-flash", "Continue")
	isErr := false
	req.Messages = []Message{
		{Role: RoleUser, Content: Content{Text: "Use a tool"}},
		{Role: RoleAssistant, Content: Content{Blocks: []ContentBlock{{
			Type:  ContentToolUse,
			ID:    "toolu_test123",
			Name:  "get_weather",
			Input: json.RawMessage(`{"location":"NYC"}`),
		}}}},
		{Role: RoleUser, Content: Content{Blocks: []ContentBlock{{
			Type:      ContentToolResult,
			ToolUseID: "toolu_test123",
			Content:   &ToolResultContent{Text: "Sunny, 72F"},
			IsError:   &isErr,
		}}}},
	}

	got := ToGoogle(req, nil)

	assistantMsg := got.Contents[1]
	if assistantMsg.Role != "model" {
		t.Fatalf("role = %q, want model", assistantMsg.Role)
	}

	found := false
	for _, p := range assistantMsg.Parts {
		if p.FunctionCall != nil && p.ThoughtSignature == signature.SkipValidatorSentinel {
			found = true
		}
	}
	if !found {
		t.Error("FunctionCall should have skip_thought_signature_validator for Gemini models")
	}
}

func TestSanitizeSchemaArrayType(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": ["string", "null"]}
		},
		"required": ["name"]
	}`)

	var sanitized map[string]any
	if err := json.Unmarshal(sanitizeSchema(schema), &sanitized); err != nil {
		t.Fatalf("unmarshal sanitized schema: %v", err)
	}
	props := sanitized["properties"].(map[string]any)
	desc := props["description"].(map[string]any)
	if desc["type"] != "string" {
		t.Errorf("array type should flatten to first non-null type, got %v", desc["type"])
	}
}

func TestSanitizeSchemaAnyOf(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"value": {
				"anyOf": [
					{"type": "string", "description": "A string value"},
					{"type": "null"}
				]
			}
		}
	}`)

	var sanitized map[string]any
	if err := json.Unmarshal(sanitizeSchema(schema), &sanitized); err != nil {
		t.Fatalf("unmarshal sanitized schema: %v", err)
	}
	props := sanitized["properties"].(map[string]any)
	value := props["value"].(map[string]any)
	if value["type"] != "string" {
		t.Errorf("anyOf should flatten to first non-null variant, got %v", value["type"])
	}
}

func TestSanitizeSchemaOneOf(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"data": {
				"oneOf": [
					{"type": "integer"},
					{"type": "null"}
				]
			}
		}
	}`)

	var sanitized map[string]any
	if err := json.Unmarshal(sanitizeSchema(schema), &sanitized); err != nil {
		t.Fatalf("unmarshal sanitized schema: %v", err)
	}
	props := sanitized["properties"].(map[string]any)
	data := props["data"].(map[string]any)
	if data["type"] != "integer" {
		t.Errorf("oneOf should flatten to first non-null variant, got %v", data["type"])
	}
}

func TestConvertDocumentBlockLikeImage(t *testing.T) {
	req := simpleRequest("claude-sonnet-4-5", "")
	req.Messages = []Message{
		{Role: RoleUser, Content: Content{Blocks: []ContentBlock{{
			Type:   ContentDocument,
			Source: &ImageSource{SourceType: "base64", MediaType: "application/pdf", Data: "ZmFrZQ=="},
		}}}},
	}

	got := ToGoogle(req, nil)
	parts := got.Contents[0].Parts
	if len(parts) != 1 || parts[0].InlineData == nil {
		t.Fatalf("expected a single InlineData part, got %+v", parts)
	}
	if parts[0].InlineData.MimeType != "application/pdf" {
		t.Errorf("mime type = %q, want application/pdf", parts[0].InlineData.MimeType)
	}
}
