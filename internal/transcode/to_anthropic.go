package transcode

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/signature"
)

// FromGoogle converts a non-streaming Cloud Code response into the
// Anthropic Messages response shape. sigCache may be nil, in which case
// signatures are simply not cached for later restoration.
func FromGoogle(resp *GenerateContentResponse, model, requestID string, sigCache *signature.Cache) MessagesResponse {
	family := mapping.GetModelFamily(model)
	if family != signature.FamilyClaude && family != signature.FamilyGemini {
		family = signature.FamilyClaude
	}

	var content []ContentBlock
	var stopReason *StopReason
	if len(resp.Candidates) > 0 {
		content, stopReason = convertCandidate(resp.Candidates[0], family, sigCache)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = convertUsage(resp.UsageMetadata)
	}

	return MessagesResponse{
		ID:         requestID,
		Type:       "message",
		Role:       RoleAssistant,
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}
}

func convertCandidate(c Candidate, family string, sigCache *signature.Cache) ([]ContentBlock, *StopReason) {
	var content []ContentBlock
	if c.Content != nil {
		content = convertParts(c.Content.Parts, family, sigCache)
	}
	var stopReason *StopReason
	if c.FinishReason != "" {
		r := convertFinishReason(c.FinishReason)
		stopReason = &r
	}
	return content, stopReason
}

func convertParts(parts []Part, family string, sigCache *signature.Cache) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(parts))
	for _, p := range parts {
		if b, ok := convertPart(p, family, sigCache); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func convertPart(p Part, family string, sigCache *signature.Cache) (ContentBlock, bool) {
	switch p.Kind() {
	case PartText:
		return ContentBlock{Type: ContentText, Text: p.Text}, true

	case PartFunctionCall:
		id := p.FunctionCall.ID
		if id == "" {
			id = "toolu_" + generateID()
		}
		if sigCache != nil && len(p.ThoughtSignature) >= signature.MinLength {
			sigCache.CacheToolSignature(id, p.ThoughtSignature)
		}
		return ContentBlock{
			Type:  ContentToolUse,
			ID:    id,
			Name:  p.FunctionCall.Name,
			Input: p.FunctionCall.Args,
		}, true

	case PartThought:
		if sigCache != nil && len(p.ThoughtSignature) >= signature.MinLength {
			sigCache.CacheThinkingSignature(p.ThoughtSignature, family)
		}
		return ContentBlock{
			Type:      ContentThinking,
			Thinking:  p.Text,
			Signature: p.ThoughtSignature,
		}, true

	default:
		// InlineData and FunctionResponse parts never appear in a model
		// response; Cloud Code only emits them in requests.
		return ContentBlock{}, false
	}
}

func convertFinishReason(reason string) StopReason {
	switch reason {
	case "STOP":
		return StopEndTurn
	case "MAX_TOKENS":
		return StopMaxTokens
	case "STOP_SEQUENCE":
		return StopSequenceStop
	case "TOOL_CALL", "FUNCTION_CALL":
		return StopToolUse
	default:
		return StopEndTurn
	}
}

func convertUsage(u *UsageMetadata) Usage {
	inputTokens := u.PromptTokenCount
	if u.CachedContentTokenCount > 0 {
		if u.CachedContentTokenCount > inputTokens {
			inputTokens = 0
		} else {
			inputTokens -= u.CachedContentTokenCount
		}
	}
	usage := Usage{
		InputTokens:  inputTokens,
		OutputTokens: u.CandidatesTokenCount,
	}
	if u.CachedContentTokenCount > 0 {
		usage.CacheReadInputTokens = u.CachedContentTokenCount
	}
	return usage
}

func generateID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// FromEvents reconstructs a non-streaming MessagesResponse from a
// completed sequence of Anthropic stream events. Thinking models must be
// dispatched through Cloud Code's streaming endpoint even when the client
// asked for a non-streaming response; this lets the pipeline buffer the
// stream and hand back one JSON body instead.
func FromEvents(events []StreamEvent, model, requestID string) MessagesResponse {
	var content []ContentBlock
	var stopReason *StopReason
	var usage Usage

	var currentText, currentThinking, currentSignature string
	inTextBlock, inThinkingBlock := false, false

	for _, ev := range events {
		switch ev.Type {
		case EventMessageStart:
			if ev.Message != nil {
				usage = ev.Message.Usage
			}

		case EventContentBlockStart:
			if ev.ContentBlock == nil {
				continue
			}
			switch ev.ContentBlock.Type {
			case ContentText:
				inTextBlock = true
				currentText = ""
			case ContentThinking:
				inThinkingBlock = true
				currentThinking = ""
				currentSignature = ev.ContentBlock.Signature
			case ContentToolUse:
				content = append(content, ContentBlock{
					Type:  ContentToolUse,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
					Input: ev.ContentBlock.Input,
				})
			}

		case EventContentBlockDelta:
			if ev.ContentDelta == nil {
				continue
			}
			switch ev.ContentDelta.Type {
			case DeltaText:
				if inTextBlock {
					currentText += ev.ContentDelta.Text
				}
			case DeltaThinking:
				if inThinkingBlock {
					currentThinking += ev.ContentDelta.Thinking
				}
			case DeltaInputJSON:
				if n := len(content); n > 0 && content[n-1].Type == ContentToolUse {
					content[n-1].Input = json.RawMessage(ev.ContentDelta.PartialJSON)
				}
			case DeltaSignature:
				if inThinkingBlock {
					currentSignature = ev.ContentDelta.Signature
				}
			}

		case EventContentBlockStop:
			if inTextBlock && currentText != "" {
				content = append(content, ContentBlock{Type: ContentText, Text: currentText})
				inTextBlock = false
			}
			if inThinkingBlock && currentThinking != "" {
				content = append(content, ContentBlock{
					Type:      ContentThinking,
					Thinking:  currentThinking,
					Signature: currentSignature,
				})
				inThinkingBlock = false
			}

		case EventMessageDelta:
			if ev.MessageDelta != nil && ev.MessageDelta.StopReason != nil {
				stopReason = ev.MessageDelta.StopReason
			}
			if ev.MessageDeltaUsage != nil {
				usage.OutputTokens = ev.MessageDeltaUsage.OutputTokens
			}
		}
	}

	if inTextBlock && currentText != "" {
		content = append(content, ContentBlock{Type: ContentText, Text: currentText})
	}
	if inThinkingBlock && currentThinking != "" {
		content = append(content, ContentBlock{
			Type:      ContentThinking,
			Thinking:  currentThinking,
			Signature: currentSignature,
		})
	}

	return MessagesResponse{
		ID:         requestID,
		Type:       "message",
		Role:       RoleAssistant,
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
	}
}
