package sse

import (
	"strings"
	"testing"

	"github.com/hnolan/ccrouter/internal/transcode"
)

func TestParserSimpleText(t *testing.T) {
	p := New("claude-sonnet-4-5", nil)

	data := "data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hello, world!\"}]}}],\"usageMetadata\":{\"promptTokenCount\":10,\"candidatesTokenCount\":5,\"cachedContentTokenCount\":0}}}\n\n"

	events := p.Feed(data)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}

	first := events[0]
	if first.Type != transcode.EventMessageStart {
		t.Fatalf("expected message_start, got %s", first.Type)
	}
	if first.Message.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", first.Message.Model)
	}
	if !strings.HasPrefix(first.Message.ID, "msg_") {
		t.Errorf("id = %q, want msg_ prefix", first.Message.ID)
	}
}

func TestParserDoneSignal(t *testing.T) {
	p := New("claude-sonnet-4-5", nil)

	events := p.Feed("data: [DONE]\n\n")
	if len(events) != 1 || events[0].Type != transcode.EventMessageStop {
		t.Fatalf("expected single message_stop event, got %+v", events)
	}
}

func TestParserFinishEmitsMessageDelta(t *testing.T) {
	p := New("claude-sonnet-4-5", nil)

	data := "data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hi\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":10,\"candidatesTokenCount\":2,\"cachedContentTokenCount\":0}}}\n\n"
	p.Feed(data)

	events := p.Finish()
	found := false
	for _, ev := range events {
		if ev.Type == transcode.EventMessageDelta {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a message_delta event among finish events")
	}
}

func TestFormatEvent(t *testing.T) {
	formatted, err := Format(MessageStopEvent())
	if err != nil {
		t.Fatalf("Format returned error: %v", err)
	}
	if !strings.HasPrefix(formatted, "event: message_stop\n") {
		t.Errorf("formatted = %q", formatted)
	}
	if !strings.HasSuffix(formatted, "\n\n") {
		t.Errorf("formatted should end with blank line, got %q", formatted)
	}
}

func TestParserGoogleErrorInStream(t *testing.T) {
	p := New("claude-opus-4-5-thinking", nil)

	data := "data: {\"error\":{\"code\":404,\"message\":\"Requested entity was not found.\",\"status\":\"NOT_FOUND\"}}\n\n"
	events := p.Feed(data)

	if len(events) != 1 || events[0].Type != transcode.EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !strings.Contains(events[0].Error.Message, "NOT_FOUND") {
		t.Errorf("message = %q", events[0].Error.Message)
	}
}

func TestParserErrorInGenerateContentResponse(t *testing.T) {
	p := New("claude-opus-4-5-thinking", nil)

	data := "data: {\"candidates\":null,\"error\":{\"code\":404,\"message\":\"Model not available\",\"status\":\"NOT_FOUND\"},\"usageMetadata\":null}\n\n"
	events := p.Feed(data)

	if len(events) != 1 || events[0].Type != transcode.EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !strings.Contains(events[0].Error.Message, "Model not available") {
		t.Errorf("message = %q", events[0].Error.Message)
	}
}

func TestParserCloudCodeWrapperError(t *testing.T) {
	p := New("claude-opus-4-5-thinking", nil)

	data := "data: {\"response\":{\"candidates\":null,\"error\":{\"code\":503,\"message\":\"Model capacity exhausted\",\"status\":\"UNAVAILABLE\"},\"usageMetadata\":null}}\n\n"
	events := p.Feed(data)

	if len(events) != 1 || events[0].Type != transcode.EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !strings.Contains(events[0].Error.Message, "UNAVAILABLE") {
		t.Errorf("message = %q", events[0].Error.Message)
	}
}

func TestParserVersionGateResponse(t *testing.T) {
	// Reproduces the response Google returns when the client version is
	// outdated: candidates with content but no "role" field, which makes
	// the CloudCodeResponse wrapper fail to decode cleanly. The text
	// should still surface as an error rather than "no candidates."
	p := New("claude-opus-4-6-thinking", nil)

	data := "data: {\"response\": {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"This version of Antigravity is no longer supported. Please update to receive the latest features!\"}]}}]}}\n\n"
	events := p.Feed(data)

	if len(events) != 1 || events[0].Type != transcode.EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !strings.Contains(events[0].Error.Message, "no longer supported") {
		t.Errorf("message = %q", events[0].Error.Message)
	}
}

func TestParserToolUseBlock(t *testing.T) {
	p := New("gemini-2.5-pro", nil)

	data := "data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"functionCall\":{\"name\":\"get_weather\",\"args\":{\"city\":\"NYC\"}}}]}}],\"usageMetadata\":{\"promptTokenCount\":5,\"candidatesTokenCount\":3,\"cachedContentTokenCount\":0}}}\n\n"
	events := p.Feed(data)

	var sawStart, sawDelta bool
	for _, ev := range events {
		if ev.Type == transcode.EventContentBlockStart && ev.ContentBlock != nil && ev.ContentBlock.Type == transcode.ContentToolUse {
			sawStart = true
			if ev.ContentBlock.Name != "get_weather" {
				t.Errorf("tool name = %q", ev.ContentBlock.Name)
			}
		}
		if ev.Type == transcode.EventContentBlockDelta && ev.ContentDelta != nil && ev.ContentDelta.Type == transcode.DeltaInputJSON {
			sawDelta = true
			if !strings.Contains(ev.ContentDelta.PartialJSON, "NYC") {
				t.Errorf("partial json = %q", ev.ContentDelta.PartialJSON)
			}
		}
	}
	if !sawStart || !sawDelta {
		t.Fatalf("expected tool_use content_block_start and input_json_delta, got %+v", events)
	}
}

func TestParserFeedAcrossChunks(t *testing.T) {
	p := New("claude-sonnet-4-5", nil)

	part1 := "data: {\"response\":{\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"chunked\"}]}}],"
	part2 := "\"usageMetadata\":{\"promptTokenCount\":1,\"candidatesTokenCount\":1,\"cachedContentTokenCount\":0}}}\n\n"

	if events := p.Feed(part1); len(events) != 0 {
		t.Fatalf("expected no events before the boundary arrives, got %+v", events)
	}
	events := p.Feed(part2)
	if len(events) == 0 {
		t.Fatal("expected events once the boundary completed")
	}
}
