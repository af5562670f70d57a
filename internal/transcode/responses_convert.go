package transcode

import "encoding/json"

// ResponsesToAnthropic converts a Responses API request into the
// normalized Anthropic request shape.
func ResponsesToAnthropic(req *ResponsesRequest) *MessagesRequest {
	var messages []Message

	if req.Input != nil {
		if req.Input.Items == nil {
			messages = append(messages, Message{Role: RoleUser, Content: Content{Text: req.Input.Text}})
		} else {
			for _, item := range req.Input.Items {
				messages = appendResponseInputItem(messages, item)
			}
		}
	}

	if len(messages) == 0 {
		messages = append(messages, Message{Role: RoleUser, Content: Content{Text: "Hello"}})
	}

	var tools []Tool
	for _, t := range req.Tools {
		if t.Type != "function" {
			continue
		}
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	model := req.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	maxTokens := uint32(16384)
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	var system *SystemPrompt
	if req.Instructions != "" {
		system = &SystemPrompt{Text: req.Instructions}
	}

	return &MessagesRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Tools:       tools,
	}
}

func appendResponseInputItem(messages []Message, item ResponseInputItem) []Message {
	switch item.Type {
	case InputItemMessage:
		role := RoleUser
		if item.Role == "assistant" {
			role = RoleAssistant
		}
		text := ""
		if item.Content != nil {
			if item.Content.Parts == nil {
				text = item.Content.Text
			} else {
				for _, p := range item.Content.Parts {
					if p.Type == "input_text" || p.Type == "output_text" {
						text += p.Text
					}
				}
			}
		}
		return append(messages, Message{Role: role, Content: Content{Text: text}})

	case InputItemFunctionCall:
		toolID := item.CallID
		if toolID == "" {
			toolID = item.ID
		}
		var input json.RawMessage
		if item.Arguments != "" {
			input = json.RawMessage(item.Arguments)
		}
		block := ContentBlock{Type: ContentToolUse, ID: toolID, Name: item.Name, Input: input}

		if n := len(messages); n > 0 && messages[n-1].Role == RoleAssistant && messages[n-1].Content.Blocks != nil {
			messages[n-1].Content.Blocks = append(messages[n-1].Content.Blocks, block)
			return messages
		}
		return append(messages, Message{Role: RoleAssistant, Content: Content{Blocks: []ContentBlock{block}}})

	case InputItemFunctionCallOutput:
		block := ContentBlock{
			Type:      ContentToolResult,
			ToolUseID: item.CallID,
			Content:   &ToolResultContent{Text: item.Output},
		}
		if n := len(messages); n > 0 && messages[n-1].Role == RoleUser && messages[n-1].Content.Blocks != nil {
			messages[n-1].Content.Blocks = append(messages[n-1].Content.Blocks, block)
			return messages
		}
		return append(messages, Message{Role: RoleUser, Content: Content{Blocks: []ContentBlock{block}}})

	default:
		return messages
	}
}

// AnthropicToResponses converts a normalized Anthropic response into the
// Responses API response shape. createdUnix is passed in by the caller.
func AnthropicToResponses(resp *MessagesResponse, model, requestID string, createdUnix float64) ResponsesResponse {
	var output []ResponseOutputItem
	var reasoningText string
	var messageContent []ResponseOutputContent

	for _, block := range resp.Content {
		switch block.Type {
		case ContentText:
			messageContent = append(messageContent, ResponseOutputContent{Type: "output_text", Text: block.Text})
		case ContentThinking:
			reasoningText += block.Thinking
		case ContentToolUse:
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			output = append(output, ResponseOutputItem{
				Type:      OutputItemFunctionCall,
				ID:        "fc_" + block.ID,
				CallID:    block.ID,
				Name:      block.Name,
				Arguments: args,
				Status:    "completed",
			})
		}
	}

	if reasoningText != "" {
		output = append(output, ResponseOutputItem{
			Type:   OutputItemReasoning,
			ID:     "rs_" + truncate(requestID, 8),
			Status: "completed",
			Summary: []ResponseOutputContent{
				{Type: "output_text", Text: reasoningText},
			},
		})
	}

	if len(messageContent) > 0 {
		output = append(output, ResponseOutputItem{
			Type:    OutputItemMessage,
			ID:      "msg_" + truncate(requestID, 8),
			Role:    "assistant",
			Status:  "completed",
			Content: messageContent,
		})
	}

	u := resp.Usage
	usage := &ResponseUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 {
		usage.InputTokensDetails = &InputTokensDetails{CachedTokens: u.CacheReadInputTokens}
	}

	return ResponsesResponse{
		ID:                "resp_" + requestID,
		Object:            "response",
		CreatedAt:         createdUnix,
		Model:             model,
		Output:            output,
		ParallelToolCalls: true,
		ToolChoice:        "auto",
		Tools:             []ResponseTool{},
		Usage:             usage,
		Status:            "completed",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
