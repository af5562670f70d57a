// Package transcode implements components F and G: converting the three
// supported client wire formats (Anthropic Messages, OpenAI Chat
// Completions, OpenAI Responses) into Google Cloud Code's generateContent
// shape, and converting Cloud Code responses back.
package transcode

import "encoding/json"

// MessagesRequest is the Anthropic Messages API request shape.
type MessagesRequest struct {
	Model          string                  `json:"model"`
	Messages       []Message               `json:"messages"`
	MaxTokens      uint32                  `json:"max_tokens"`
	Stream         bool                    `json:"stream,omitempty"`
	System         *SystemPrompt           `json:"system,omitempty"`
	Tools          []Tool                  `json:"tools,omitempty"`
	ToolChoice     *ToolChoice             `json:"tool_choice,omitempty"`
	Temperature    *float32                `json:"temperature,omitempty"`
	TopP           *float32                `json:"top_p,omitempty"`
	TopK           *uint32                 `json:"top_k,omitempty"`
	StopSequences  []string                `json:"stop_sequences,omitempty"`
	Thinking       *RequestThinkingConfig  `json:"thinking,omitempty"`
	ResponseFormat *ResponseFormat         `json:"response_format,omitempty"`
	CandidateCount *uint32                 `json:"candidate_count,omitempty"`
}

// ToolChoice steers how aggressively the model must call a tool.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", or "tool"
	Name string `json:"name,omitempty"`
}

// RequestThinkingConfig is the client-supplied extended-thinking toggle.
type RequestThinkingConfig struct {
	Type         string  `json:"type"` // "enabled" or "disabled"
	BudgetTokens *uint32 `json:"budget_tokens,omitempty"`
}

// Enabled reports whether the client asked for thinking to be turned on.
func (t *RequestThinkingConfig) Enabled() bool {
	return t != nil && t.Type == "enabled"
}

// Disabled reports whether the client explicitly turned thinking off.
func (t *RequestThinkingConfig) Disabled() bool {
	return t != nil && t.Type == "disabled"
}

// ResponseFormat requests JSON-shaped output, optionally against a
// schema. This is an ccrouter-side addition (not in Anthropic's public
// API) used by OpenAI-compatible callers whose response_format survives
// the conversion to the normalized Anthropic request shape.
type ResponseFormat struct {
	Type   string          `json:"type"` // "json_object" or "json_schema"
	Schema json.RawMessage `json:"schema,omitempty"`
}

// SystemPrompt is either a plain string or a list of content blocks (an
// Anthropic "untagged" union, decoded by trying each shape in turn).
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		return nil
	}
	return json.Unmarshal(data, &s.Blocks)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// PlainText renders the system prompt as a single string, concatenating
// block text when it was supplied as blocks. Cloud Code's systemInstruction
// field takes flat text, not Anthropic's block structure.
func (s SystemPrompt) PlainText() string {
	if s.Blocks == nil {
		return s.Text
	}
	out := ""
	for _, b := range s.Blocks {
		if b.Type == ContentText {
			out += b.Text
		}
	}
	return out
}

// Role is an Anthropic message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of an Anthropic conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Content is either plain text or a list of content blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}
	return json.Unmarshal(data, &c.Blocks)
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// AsBlocks normalizes Content to block form, wrapping plain text in a
// single text block.
func (c Content) AsBlocks() []ContentBlock {
	if c.Blocks != nil {
		return c.Blocks
	}
	if c.Text == "" {
		return nil
	}
	return []ContentBlock{{Type: ContentText, Text: c.Text}}
}

// BlockType discriminates ContentBlock's tagged union.
type BlockType string

const (
	ContentText       BlockType = "text"
	ContentImage      BlockType = "image"
	ContentDocument   BlockType = "document"
	ContentToolUse    BlockType = "tool_use"
	ContentToolResult BlockType = "tool_result"
	ContentThinking   BlockType = "thinking"
)

// ContentBlock is one block of an Anthropic message's content array. All
// fields are present; which are meaningful is determined by Type,
// mirroring the Rust source's tagged enum via a flat Go struct (the
// common, idiomatic substitute for serde's internally-tagged enums).
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text         string          `json:"text,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`

	// image / document (same base64-blob-plus-media-type shape)
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ImageSource is an Anthropic inline base64 image.
type ImageSource struct {
	SourceType string `json:"type"`
	MediaType  string `json:"media_type"`
	Data       string `json:"data"`
}

// ToolResultContent is either plain text or a list of content blocks.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
}

func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		t.Text = text
		return nil
	}
	return json.Unmarshal(data, &t.Blocks)
}

func (t ToolResultContent) MarshalJSON() ([]byte, error) {
	if t.Blocks != nil {
		return json.Marshal(t.Blocks)
	}
	return json.Marshal(t.Text)
}

// PlainText flattens the tool result to a string for providers (Cloud
// Code's functionResponse) that want flat text.
func (t ToolResultContent) PlainText() string {
	if t.Blocks == nil {
		return t.Text
	}
	out := ""
	for _, b := range t.Blocks {
		if b.Type == ContentText {
			out += b.Text
		}
	}
	return out
}

// Tool is an Anthropic tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// MessagesResponse is the Anthropic Messages API non-streaming response
// shape.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *StopReason    `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequenceStop StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// ToOpenAIFinishReason converts an Anthropic stop reason to an OpenAI
// finish_reason string.
func (s StopReason) ToOpenAIFinishReason() string {
	switch s {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

// Usage is Anthropic-shaped token accounting.
type Usage struct {
	InputTokens              uint32 `json:"input_tokens"`
	OutputTokens             uint32 `json:"output_tokens"`
	CacheCreationInputTokens uint32 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     uint32 `json:"cache_read_input_tokens,omitempty"`
}

// StreamEvent is one event of an Anthropic Messages streaming response.
// Unlike ContentBlock, the "delta" key means a different shape depending on
// Type (a content delta for content_block_delta, message-level fields for
// message_delta), so this carries both and marshals only the one Type
// selects instead of flattening them onto a shared field.
type StreamEvent struct {
	Type string

	Message *MessageStart

	Index        *int
	ContentBlock *ContentBlock
	ContentDelta *ContentDelta

	MessageDelta     *MessageDeltaData
	MessageDeltaUsage *MessageDeltaUsage

	Error *StreamError
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": e.Type}
	switch e.Type {
	case EventMessageStart:
		m["message"] = e.Message
	case EventContentBlockStart:
		m["index"] = e.Index
		m["content_block"] = e.ContentBlock
	case EventContentBlockDelta:
		m["index"] = e.Index
		m["delta"] = e.ContentDelta
	case EventContentBlockStop:
		m["index"] = e.Index
	case EventMessageDelta:
		m["delta"] = e.MessageDelta
		m["usage"] = e.MessageDeltaUsage
	case EventError:
		m["error"] = e.Error
	}
	return json.Marshal(m)
}

func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.Type = head.Type

	switch head.Type {
	case EventMessageStart:
		var body struct {
			Message *MessageStart `json:"message"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.Message = body.Message
	case EventContentBlockStart:
		var body struct {
			Index        *int          `json:"index"`
			ContentBlock *ContentBlock `json:"content_block"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.Index, e.ContentBlock = body.Index, body.ContentBlock
	case EventContentBlockDelta:
		var body struct {
			Index *int          `json:"index"`
			Delta *ContentDelta `json:"delta"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.Index, e.ContentDelta = body.Index, body.Delta
	case EventContentBlockStop:
		var body struct {
			Index *int `json:"index"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.Index = body.Index
	case EventMessageDelta:
		var body struct {
			Delta *MessageDeltaData  `json:"delta"`
			Usage *MessageDeltaUsage `json:"usage"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.MessageDelta, e.MessageDeltaUsage = body.Delta, body.Usage
	case EventError:
		var body struct {
			Error *StreamError `json:"error"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		e.Error = body.Error
	}
	return nil
}

// Stream event type discriminators.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// MessageStart is the payload of a message_start event: the skeleton of
// the message the stream is about to fill in.
type MessageStart struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *StopReason    `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// ContentDelta is the incremental payload of a content_block_delta event.
// Type discriminates text/thinking/input_json/signature deltas.
type ContentDelta struct {
	Type string `json:"type"`

	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

const (
	DeltaText        = "text_delta"
	DeltaThinking    = "thinking_delta"
	DeltaInputJSON   = "input_json_delta"
	DeltaSignature   = "signature_delta"
)

// MessageDeltaData carries the fields a message_delta event updates on the
// in-progress message.
type MessageDeltaData struct {
	StopReason   *StopReason `json:"stop_reason,omitempty"`
	StopSequence *string     `json:"stop_sequence,omitempty"`
}

// MessageDeltaUsage is the cumulative usage reported alongside a
// message_delta event.
type MessageDeltaUsage struct {
	OutputTokens uint32 `json:"output_tokens"`
}

// StreamError is the payload of an error event.
type StreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ModelsResponse is returned by GET /v1/models.
type ModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ModelInfo describes one model in the /v1/models listing.
type ModelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}
