package transcode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAIToAnthropic converts an OpenAI Chat Completions request into the
// normalized Anthropic request shape.
func OpenAIToAnthropic(req *ChatCompletionRequest) *MessagesRequest {
	var system *SystemPrompt
	var messages []Message

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if msg.Content != nil {
				system = &SystemPrompt{Text: chatContentToString(msg.Content)}
			}

		case "user":
			content := Content{Text: ""}
			if msg.Content != nil {
				content = convertChatContent(msg.Content)
			}
			messages = append(messages, Message{Role: RoleUser, Content: content})

		case "assistant":
			var blocks []ContentBlock
			if msg.Content != nil {
				if text := chatContentToString(msg.Content); text != "" {
					blocks = append(blocks, ContentBlock{Type: ContentText, Text: text})
				}
			}
			for _, tc := range msg.ToolCalls {
				var input json.RawMessage
				if tc.Function.Arguments != "" {
					input = json.RawMessage(tc.Function.Arguments)
				}
				blocks = append(blocks, ContentBlock{
					Type:  ContentToolUse,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, ContentBlock{Type: ContentText, Text: ""})
			}
			messages = append(messages, Message{Role: RoleAssistant, Content: Content{Blocks: blocks}})

		case "tool":
			if msg.ToolCallID == "" {
				continue
			}
			text := ""
			if msg.Content != nil {
				text = chatContentToString(msg.Content)
			}
			block := ContentBlock{
				Type:      ContentToolResult,
				ToolUseID: msg.ToolCallID,
				Content:   &ToolResultContent{Text: text},
			}
			if n := len(messages); n > 0 && messages[n-1].Role == RoleUser && messages[n-1].Content.Blocks != nil {
				messages[n-1].Content.Blocks = append(messages[n-1].Content.Blocks, block)
				continue
			}
			messages = append(messages, Message{Role: RoleUser, Content: Content{Blocks: []ContentBlock{block}}})
		}
	}

	maxTokens := uint32(4096)
	if req.MaxCompletionTokens != nil {
		maxTokens = *req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var stopSequences []string
	if req.Stop != nil {
		if req.Stop.Multiple != nil {
			stopSequences = req.Stop.Multiple
		} else {
			stopSequences = []string{req.Stop.Single}
		}
	}

	var tools []Tool
	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	return &MessagesRequest{
		Model:         req.Model,
		Messages:      messages,
		MaxTokens:     maxTokens,
		System:        system,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: stopSequences,
		Stream:        req.Stream,
		Tools:         tools,
	}
}

// AnthropicToOpenAI converts a normalized Anthropic response into the
// OpenAI Chat Completions response shape. createdUnix is the response
// timestamp, passed in rather than computed (Date.now is a pipeline
// concern, not a transcoder one).
func AnthropicToOpenAI(resp *MessagesResponse, model, requestID string, createdUnix int64) ChatCompletionResponse {
	var textParts []string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case ContentText:
			textParts = append(textParts, block.Text)
		case ContentToolUse:
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case ContentThinking:
			textParts = append(textParts, fmt.Sprintf("<thinking>\n%s\n</thinking>", block.Thinking))
		}
	}

	var content *string
	if len(textParts) > 0 {
		joined := strings.Join(textParts, "\n")
		content = &joined
	}

	var toolCallsOpt []ToolCall
	if len(toolCalls) > 0 {
		toolCallsOpt = toolCalls
	}

	var finishReason *string
	if resp.StopReason != nil {
		reason := resp.StopReason.ToOpenAIFinishReason()
		finishReason = &reason
	}

	return ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   model,
		Choices: []Choice{{
			Index: 0,
			Message: ResponseMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCallsOpt,
			},
			FinishReason: finishReason,
		}},
		Usage: &ChatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func chatContentToString(c *ChatContent) string {
	if c.Parts == nil {
		return c.Text
	}
	var parts []string
	for _, p := range c.Parts {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func convertChatContent(c *ChatContent) Content {
	if c.Parts == nil {
		return Content{Text: c.Text}
	}
	var blocks []ContentBlock
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, ContentBlock{Type: ContentText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURL(p.ImageURL.URL); ok {
				blocks = append(blocks, ContentBlock{
					Type: ContentImage,
					Source: &ImageSource{
						SourceType: "base64",
						MediaType:  mediaType,
						Data:       data,
					},
				})
			}
		}
	}
	return Content{Blocks: blocks}
}

func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	mimePart, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType = mimePart
	if i := strings.IndexByte(mimePart, ';'); i >= 0 {
		mediaType = mimePart[:i]
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return mediaType, payload, true
}
