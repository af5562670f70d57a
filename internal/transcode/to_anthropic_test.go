package transcode

import "testing"

func testResponse(text string, finishReason string) *GenerateContentResponse {
	return &GenerateContentResponse{
		Candidates: []Candidate{{
			Content:      &GoogleContent{Role: "model", Parts: []Part{{Text: text}}},
			FinishReason: finishReason,
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 50,
			TotalTokenCount:      150,
		},
	}
}

func TestConvertSimpleResponse(t *testing.T) {
	resp := testResponse("Hello, world!", "STOP")
	got := FromGoogle(resp, "claude-sonnet-4-5", "req_123", nil)

	if got.ID != "req_123" {
		t.Errorf("id = %q", got.ID)
	}
	if got.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", got.Model)
	}
	if got.Role != RoleAssistant {
		t.Errorf("role = %q", got.Role)
	}
	if len(got.Content) != 1 || got.Content[0].Type != ContentText || got.Content[0].Text != "Hello, world!" {
		t.Fatalf("unexpected content: %+v", got.Content)
	}
}

func TestConvertStopReason(t *testing.T) {
	cases := map[string]StopReason{
		"STOP":       StopEndTurn,
		"MAX_TOKENS": StopMaxTokens,
		"TOOL_CALL":  StopToolUse,
	}
	for reason, want := range cases {
		resp := testResponse("Text", reason)
		got := FromGoogle(resp, "test", "req", nil)
		if got.StopReason == nil || *got.StopReason != want {
			t.Errorf("reason %q: got %v, want %v", reason, got.StopReason, want)
		}
	}
}

func TestConvertUsageWithCache(t *testing.T) {
	resp := &GenerateContentResponse{
		Candidates: []Candidate{{
			Content:      &GoogleContent{Role: "model", Parts: []Part{{Text: "Hi"}}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:        1000,
			CandidatesTokenCount:    100,
			TotalTokenCount:         1100,
			CachedContentTokenCount: 800,
		},
	}

	got := FromGoogle(resp, "test", "req_cache", nil)
	if got.Usage.InputTokens != 200 {
		t.Errorf("input_tokens = %d, want 200", got.Usage.InputTokens)
	}
	if got.Usage.OutputTokens != 100 {
		t.Errorf("output_tokens = %d, want 100", got.Usage.OutputTokens)
	}
	if got.Usage.CacheReadInputTokens != 800 {
		t.Errorf("cache_read_input_tokens = %d, want 800", got.Usage.CacheReadInputTokens)
	}
}

func TestConvertEmptyResponse(t *testing.T) {
	resp := &GenerateContentResponse{}
	got := FromGoogle(resp, "test", "req_empty", nil)

	if len(got.Content) != 0 {
		t.Errorf("expected empty content, got %+v", got.Content)
	}
	if got.StopReason != nil {
		t.Errorf("expected nil stop reason, got %v", got.StopReason)
	}
}

func TestBuildResponseFromEventsText(t *testing.T) {
	endTurn := StopEndTurn
	events := []StreamEvent{
		{Type: EventMessageStart, Message: &MessageStart{
			ID: "msg_123", Type: "message", Role: RoleAssistant, Model: "claude-sonnet-4-5",
			Usage: Usage{InputTokens: 100},
		}},
		{Type: EventContentBlockStart, Index: intPtr(0), ContentBlock: &ContentBlock{Type: ContentText}},
		{Type: EventContentBlockDelta, Index: intPtr(0), ContentDelta: &ContentDelta{Type: DeltaText, Text: "Hello "}},
		{Type: EventContentBlockDelta, Index: intPtr(0), ContentDelta: &ContentDelta{Type: DeltaText, Text: "world!"}},
		{Type: EventContentBlockStop, Index: intPtr(0)},
		{Type: EventMessageDelta, MessageDelta: &MessageDeltaData{StopReason: &endTurn}, MessageDeltaUsage: &MessageDeltaUsage{OutputTokens: 10}},
	}

	got := FromEvents(events, "claude-sonnet-4-5", "req_stream")

	if got.ID != "req_stream" {
		t.Errorf("id = %q", got.ID)
	}
	if len(got.Content) != 1 || got.Content[0].Text != "Hello world!" {
		t.Fatalf("unexpected content: %+v", got.Content)
	}
	if got.StopReason == nil || *got.StopReason != StopEndTurn {
		t.Errorf("stop reason = %v, want end_turn", got.StopReason)
	}
	if got.Usage.OutputTokens != 10 {
		t.Errorf("output_tokens = %d, want 10", got.Usage.OutputTokens)
	}
}

func intPtr(i int) *int { return &i }
