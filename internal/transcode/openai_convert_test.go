package transcode

import "testing"

func TestSimpleChatToAnthropic(t *testing.T) {
	maxTokens := uint32(100)
	temp := float32(0.7)
	req := &ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []ChatMessage{
			{Role: "system", Content: &ChatContent{Text: "You are helpful"}},
			{Role: "user", Content: &ChatContent{Text: "Hello"}},
		},
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	}

	anthropic := OpenAIToAnthropic(req)

	if anthropic.Model != "gpt-4" {
		t.Errorf("model = %q", anthropic.Model)
	}
	if anthropic.MaxTokens != 100 {
		t.Errorf("max_tokens = %d", anthropic.MaxTokens)
	}
	if anthropic.System == nil {
		t.Fatal("expected system prompt")
	}
	if len(anthropic.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(anthropic.Messages))
	}
	if anthropic.Messages[0].Role != RoleUser {
		t.Errorf("role = %q, want user", anthropic.Messages[0].Role)
	}
}

func TestAnthropicToOpenAISimple(t *testing.T) {
	endTurn := StopEndTurn
	resp := &MessagesResponse{
		ID:         "msg_123",
		Type:       "message",
		Role:       RoleAssistant,
		Content:    []ContentBlock{{Type: ContentText, Text: "Hello!"}},
		Model:      "claude-sonnet-4-5",
		StopReason: &endTurn,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}

	got := AnthropicToOpenAI(resp, "claude-sonnet-4-5", "req_123", 1700000000)

	if got.ID != "chatcmpl-req_123" {
		t.Errorf("id = %q", got.ID)
	}
	if got.Object != "chat.completion" {
		t.Errorf("object = %q", got.Object)
	}
	if len(got.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(got.Choices))
	}
	if got.Choices[0].Message.Content == nil || *got.Choices[0].Message.Content != "Hello!" {
		t.Errorf("content = %v, want Hello!", got.Choices[0].Message.Content)
	}
	if got.Choices[0].FinishReason == nil || *got.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %v, want stop", got.Choices[0].FinishReason)
	}
	if got.Usage == nil {
		t.Error("expected usage")
	}
}

func TestToolCallConversion(t *testing.T) {
	toolUse := StopToolUse
	resp := &MessagesResponse{
		ID:         "msg_123",
		Type:       "message",
		Role:       RoleAssistant,
		Content:    []ContentBlock{{Type: ContentToolUse, ID: "call_123", Name: "get_weather", Input: []byte(`{"location":"NYC"}`)}},
		Model:      "claude-sonnet-4-5",
		StopReason: &toolUse,
	}

	got := AnthropicToOpenAI(resp, "test", "req_1", 1700000000)

	if got.Choices[0].FinishReason == nil || *got.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %v, want tool_calls", got.Choices[0].FinishReason)
	}
	toolCalls := got.Choices[0].Message.ToolCalls
	if len(toolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(toolCalls))
	}
	if toolCalls[0].Function.Name != "get_weather" {
		t.Errorf("function name = %q", toolCalls[0].Function.Name)
	}
}
