// Package sse implements the SSE state machine (component H): it turns a
// byte stream of Cloud Code's streamGenerateContent SSE events into the
// Anthropic Messages streaming event sequence the HTTP layer writes back to
// clients.
package sse

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/signature"
	"github.com/hnolan/ccrouter/internal/transcode"
)

type blockType int

const (
	blockNone blockType = iota
	blockText
	blockThinking
	blockToolUse
)

// Parser turns incrementally-arriving SSE bytes into Anthropic stream
// events. Feed data as it arrives; call Finish once the upstream stream
// ends to flush any still-open block and emit the closing message_delta.
// A Parser is not safe for concurrent use.
type Parser struct {
	pending string

	model     string
	messageID string
	sigCache  *signature.Cache

	hasEmittedStart  bool
	blockIndex       uint32
	currentBlockType blockType
	currentThinkingSignature string

	inputTokens     uint32
	outputTokens    uint32
	cacheReadTokens uint32
	stopReason      *transcode.StopReason

	lastRawData string
}

// New returns a Parser for a single streaming response to model. sigCache
// may be nil, in which case thinking signatures are simply not cached.
func New(model string, sigCache *signature.Cache) *Parser {
	return &Parser{
		pending:   "",
		model:     model,
		messageID: "msg_" + generateHex(16),
		sigCache:  sigCache,
	}
}

// Feed appends data to the parser's buffer and returns any complete events
// it now contains. Event boundaries are a blank line, "\n\n" or the CRLF
// equivalent "\r\n\r\n".
func (p *Parser) Feed(data string) []transcode.StreamEvent {
	p.pending += data

	var events []transcode.StreamEvent
	for {
		pos, skip := findBoundary(p.pending)
		if pos < 0 {
			break
		}
		line := p.pending[:pos]
		p.pending = p.pending[pos+skip:]
		events = append(events, p.parseLine(line)...)
	}
	return events
}

func findBoundary(s string) (pos, skip int) {
	if i := strings.Index(s, "\r\n\r\n"); i >= 0 {
		return i, 4
	}
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return i, 2
	}
	return -1, 0
}

func (p *Parser) parseLine(line string) []transcode.StreamEvent {
	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		if data, ok = strings.CutPrefix(line, "data:"); !ok {
			return nil
		}
	}
	data = strings.TrimSpace(data)

	if data == "[DONE]" {
		return []transcode.StreamEvent{MessageStopEvent()}
	}

	if len(data) > 500 {
		p.lastRawData = data[:500]
	} else {
		p.lastRawData = data
	}

	resp, errEvent := p.decode(data)
	if errEvent != nil {
		return []transcode.StreamEvent{*errEvent}
	}
	if resp == nil {
		return nil
	}

	if resp.Error != nil {
		return []transcode.StreamEvent{errorEvent(fmt.Sprintf("Google API error (%s): %s", resp.Error.Status, resp.Error.Message))}
	}

	return p.processResponse(resp)
}

// decode implements the three-tier fallback: try the CloudCodeResponse
// wrapper first, then a generic JSON probe for a "response" or "error" key
// (giving a better diagnostic than silently decoding to an empty struct),
// then a bare GenerateContentResponse.
func (p *Parser) decode(data string) (*transcode.GenerateContentResponse, *transcode.StreamEvent) {
	var wrapper transcode.CloudCodeResponse
	if err := json.Unmarshal([]byte(data), &wrapper); err == nil && looksLikeWrapper(data) && candidatesWellFormed(wrapper.Response) {
		return &wrapper.Response, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err == nil {
		if _, hasResponse := raw["response"]; hasResponse {
			message := extractVersionGateText(raw["response"])
			if message == "" {
				message = fmt.Sprintf("Failed to parse CloudCodeResponse. Raw: %s", truncate(data, 300))
			}
			ev := errorEvent(message)
			return nil, &ev
		}

		if errObj, hasError := raw["error"]; hasError {
			var ge transcode.GoogleError
			_ = json.Unmarshal(errObj, &ge)
			status := ge.Status
			if status == "" {
				status = "UNKNOWN"
			}
			msg := ge.Message
			if msg == "" {
				msg = "Unknown error"
			}
			ev := errorEvent(fmt.Sprintf("Google API error (%s): %s", status, msg))
			return nil, &ev
		}
	}

	var direct transcode.GenerateContentResponse
	if err := json.Unmarshal([]byte(data), &direct); err != nil {
		return nil, nil
	}
	return &direct, nil
}

// looksLikeWrapper reports whether data has a top-level "response" key,
// confirming a CloudCodeResponse decode actually matched the wrapper shape
// rather than silently zero-valuing every field.
func looksLikeWrapper(data string) bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return false
	}
	_, ok := raw["response"]
	return ok
}

// candidatesWellFormed rejects a wrapper decode whose candidates carry
// content with no role. Go's decoder silently zero-values missing fields
// where the original's stricter deserializer would fail outright on a
// missing required field (the shape Google sends for the outdated-client
// version gate); without this check such a response would silently decode
// into an empty-looking reply instead of surfacing the version-gate text.
func candidatesWellFormed(resp transcode.GenerateContentResponse) bool {
	for _, c := range resp.Candidates {
		if c.Content != nil && c.Content.Role == "" && len(c.Content.Parts) > 0 {
			return false
		}
	}
	return true
}

// extractVersionGateText pulls the first candidate's text out of a
// response payload that failed to decode as a CloudCodeResponse, e.g.
// because it omits "role" on the content object (the shape Google sends
// for the outdated-client version gate).
func extractVersionGateText(response json.RawMessage) string {
	var probe struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(response, &probe); err != nil {
		return ""
	}
	if len(probe.Candidates) == 0 || len(probe.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return probe.Candidates[0].Content.Parts[0].Text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func errorEvent(message string) transcode.StreamEvent {
	return transcode.StreamEvent{
		Type:  transcode.EventError,
		Error: &transcode.StreamError{Type: "api_error", Message: message},
	}
}

// processResponse converts one decoded GenerateContentResponse into zero
// or more Anthropic stream events, advancing the parser's block-type state
// machine.
func (p *Parser) processResponse(resp *transcode.GenerateContentResponse) []transcode.StreamEvent {
	var events []transcode.StreamEvent

	if resp.UsageMetadata != nil {
		p.inputTokens = resp.UsageMetadata.PromptTokenCount
		p.outputTokens = resp.UsageMetadata.CandidatesTokenCount
		p.cacheReadTokens = resp.UsageMetadata.CachedContentTokenCount
	}

	var first *transcode.Candidate
	if len(resp.Candidates) > 0 {
		first = &resp.Candidates[0]
	}

	if first != nil && first.FinishReason != "" {
		switch strings.ToUpper(first.FinishReason) {
		case "SAFETY", "BLOCKED", "RECITATION", "OTHER":
			return []transcode.StreamEvent{errorEvent(
				fmt.Sprintf("Response blocked by Google API (reason: %s)", first.FinishReason))}
		}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return []transcode.StreamEvent{{
			Type:  transcode.EventError,
			Error: &transcode.StreamError{Type: "invalid_request_error", Message: fmt.Sprintf("Prompt blocked by Google API (reason: %s)", resp.PromptFeedback.BlockReason)},
		}}
	}

	if first == nil && !p.hasEmittedStart {
		return []transcode.StreamEvent{errorEvent(
			fmt.Sprintf("Model %s returned no candidates. The model may be unavailable.", p.model))}
	}

	var parts []transcode.Part
	if first != nil && first.Content != nil {
		parts = first.Content.Parts
	}

	if !p.hasEmittedStart && len(parts) > 0 {
		p.hasEmittedStart = true
		adjusted := p.inputTokens
		if p.cacheReadTokens > adjusted {
			adjusted = 0
		} else {
			adjusted -= p.cacheReadTokens
		}
		usage := transcode.Usage{InputTokens: adjusted, CacheCreationInputTokens: 0}
		if p.cacheReadTokens > 0 {
			usage.CacheReadInputTokens = p.cacheReadTokens
		}
		events = append(events, transcode.StreamEvent{
			Type: transcode.EventMessageStart,
			Message: &transcode.MessageStart{
				ID:      p.messageID,
				Type:    "message",
				Role:    transcode.RoleAssistant,
				Content: []transcode.ContentBlock{},
				Model:   p.model,
				Usage:   usage,
			},
		})
	}

	for _, part := range parts {
		events = append(events, p.processPart(part)...)
	}

	if first != nil && first.FinishReason != "" && p.stopReason == nil {
		var r transcode.StopReason
		switch first.FinishReason {
		case "MAX_TOKENS":
			r = transcode.StopMaxTokens
		default:
			r = transcode.StopEndTurn
		}
		p.stopReason = &r
	}

	return events
}

func (p *Parser) processPart(part transcode.Part) []transcode.StreamEvent {
	var events []transcode.StreamEvent

	switch part.Kind() {
	case transcode.PartThought:
		if p.currentBlockType != blockThinking {
			events = append(events, p.closeCurrentBlock()...)
			p.currentBlockType = blockThinking
			p.currentThinkingSignature = ""
			events = append(events, transcode.StreamEvent{
				Type:         transcode.EventContentBlockStart,
				Index:        indexPtr(p.blockIndex),
				ContentBlock: &transcode.ContentBlock{Type: transcode.ContentThinking},
			})
		}

		if len(part.ThoughtSignature) >= signature.MinLength {
			p.currentThinkingSignature = part.ThoughtSignature
			family := mapping.GetModelFamily(p.model)
			if family != signature.FamilyClaude && family != signature.FamilyGemini {
				family = signature.FamilyClaude
			}
			if p.sigCache != nil {
				p.sigCache.CacheThinkingSignature(part.ThoughtSignature, family)
			}
		}

		if part.Text != "" {
			events = append(events, transcode.StreamEvent{
				Type:         transcode.EventContentBlockDelta,
				Index:        indexPtr(p.blockIndex),
				ContentDelta: &transcode.ContentDelta{Type: transcode.DeltaThinking, Thinking: part.Text},
			})
		}

	case transcode.PartText:
		if part.Text == "" {
			break
		}
		if p.currentBlockType != blockText {
			events = append(events, p.flushThinkingSignature()...)
			events = append(events, p.closeCurrentBlock()...)
			p.currentBlockType = blockText
			events = append(events, transcode.StreamEvent{
				Type:         transcode.EventContentBlockStart,
				Index:        indexPtr(p.blockIndex),
				ContentBlock: &transcode.ContentBlock{Type: transcode.ContentText},
			})
		}
		events = append(events, transcode.StreamEvent{
			Type:         transcode.EventContentBlockDelta,
			Index:        indexPtr(p.blockIndex),
			ContentDelta: &transcode.ContentDelta{Type: transcode.DeltaText, Text: part.Text},
		})

	case transcode.PartFunctionCall:
		events = append(events, p.flushThinkingSignature()...)
		events = append(events, p.closeCurrentBlock()...)
		p.currentBlockType = blockToolUse
		toolUse := transcode.StopToolUse
		p.stopReason = &toolUse

		toolID := part.FunctionCall.ID
		if toolID == "" {
			toolID = "toolu_" + generateHex(12)
		}

		events = append(events, transcode.StreamEvent{
			Type:  transcode.EventContentBlockStart,
			Index: indexPtr(p.blockIndex),
			ContentBlock: &transcode.ContentBlock{
				Type: transcode.ContentToolUse,
				ID:   toolID,
				Name: part.FunctionCall.Name,
				Input: json.RawMessage("{}"),
			},
		})

		argsJSON := stripIDField(part.FunctionCall.Args)
		events = append(events, transcode.StreamEvent{
			Type:         transcode.EventContentBlockDelta,
			Index:        indexPtr(p.blockIndex),
			ContentDelta: &transcode.ContentDelta{Type: transcode.DeltaInputJSON, PartialJSON: argsJSON},
		})

		if len(part.ThoughtSignature) >= signature.MinLength && p.sigCache != nil {
			p.sigCache.CacheToolSignature(toolID, part.ThoughtSignature)
		}
	}

	return events
}

// stripIDField removes an "id" key some upstream function-call args carry,
// which is not a real function parameter.
func stripIDField(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return string(args)
	}
	delete(obj, "id")
	out, err := json.Marshal(obj)
	if err != nil {
		return string(args)
	}
	return string(out)
}

func (p *Parser) flushThinkingSignature() []transcode.StreamEvent {
	if p.currentBlockType != blockThinking || p.currentThinkingSignature == "" {
		return nil
	}
	ev := transcode.StreamEvent{
		Type:         transcode.EventContentBlockDelta,
		Index:        indexPtr(p.blockIndex),
		ContentDelta: &transcode.ContentDelta{Type: transcode.DeltaSignature, Signature: p.currentThinkingSignature},
	}
	p.currentThinkingSignature = ""
	return []transcode.StreamEvent{ev}
}

func (p *Parser) closeCurrentBlock() []transcode.StreamEvent {
	if p.currentBlockType == blockNone {
		return nil
	}
	ev := transcode.StreamEvent{Type: transcode.EventContentBlockStop, Index: indexPtr(p.blockIndex)}
	p.blockIndex++
	p.currentBlockType = blockNone
	return []transcode.StreamEvent{ev}
}

// Finish closes any still-open block and returns the closing message_delta
// event. Call this once after the upstream stream has ended.
func (p *Parser) Finish() []transcode.StreamEvent {
	var events []transcode.StreamEvent

	if p.currentBlockType == blockThinking && p.currentThinkingSignature != "" {
		events = append(events, transcode.StreamEvent{
			Type:         transcode.EventContentBlockDelta,
			Index:        indexPtr(p.blockIndex),
			ContentDelta: &transcode.ContentDelta{Type: transcode.DeltaSignature, Signature: p.currentThinkingSignature},
		})
	}
	if p.currentBlockType != blockNone {
		events = append(events, transcode.StreamEvent{Type: transcode.EventContentBlockStop, Index: indexPtr(p.blockIndex)})
	}

	stopReason := transcode.StopEndTurn
	if p.stopReason != nil {
		stopReason = *p.stopReason
	}
	events = append(events, transcode.StreamEvent{
		Type:              transcode.EventMessageDelta,
		MessageDelta:      &transcode.MessageDeltaData{StopReason: &stopReason},
		MessageDeltaUsage: &transcode.MessageDeltaUsage{OutputTokens: p.outputTokens},
	})

	return events
}

// MessageStopEvent returns the Anthropic message_stop event, emitted when
// the upstream stream sends its own [DONE] sentinel.
func MessageStopEvent() transcode.StreamEvent {
	return transcode.StreamEvent{Type: transcode.EventMessageStop}
}

// Format renders an event in Anthropic's "event: <type>\ndata: <json>\n\n"
// SSE framing.
func Format(ev transcode.StreamEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data), nil
}

func indexPtr(i uint32) *int {
	v := int(i)
	return &v
}

func generateHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
