package transcode

import "encoding/json"

// OpenAI Chat Completions wire types. openai.rs, the original's type
// definitions, was not available for direct grounding (only its
// conversion module, openai_convert.rs, was retrieved); these types are
// reconstructed from how that module uses them.

// ChatCompletionRequest is the OpenAI Chat Completions request shape.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxTokens           *uint32         `json:"max_tokens,omitempty"`
	MaxCompletionTokens *uint32         `json:"max_completion_tokens,omitempty"`
	Temperature         *float32        `json:"temperature,omitempty"`
	TopP                *float32        `json:"top_p,omitempty"`
	Stop                *StopSequence   `json:"stop,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	Tools               []ChatTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	N                   *uint32         `json:"n,omitempty"`
	User                string          `json:"user,omitempty"`
}

// ChatMessage is one OpenAI chat message.
type ChatMessage struct {
	Role       string        `json:"role"`
	Content    *ChatContent  `json:"content,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ChatContent is either plain text or a list of content parts (an OpenAI
// untagged union, same decode-by-trying-each-shape pattern as Anthropic's
// Content).
type ChatContent struct {
	Text  string
	Parts []ChatContentPart
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ChatContentPart is one element of a multi-part chat message (flattened
// tagged union: Type selects between "text" and "image_url").
type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

// ChatImageURL is an OpenAI inline or remote image reference. ccrouter
// only understands the data: URL form; anything else is dropped.
type ChatImageURL struct {
	URL string `json:"url"`
}

// StopSequence is either one stop string or a list of them.
type StopSequence struct {
	Single   string
	Multiple []string
}

func (s *StopSequence) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.Single = single
		return nil
	}
	return json.Unmarshal(data, &s.Multiple)
}

func (s StopSequence) MarshalJSON() ([]byte, error) {
	if s.Multiple != nil {
		return json.Marshal(s.Multiple)
	}
	return json.Marshal(s.Single)
}

// ChatTool is an OpenAI tool definition.
type ChatTool struct {
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction is the body of a ChatTool.
type ChatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is one model-issued tool invocation in an assistant message.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the body of a ToolCall; Arguments is a JSON-encoded
// string (OpenAI's wire convention), not a raw JSON value.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionResponse is the non-streaming Chat Completions response.
type ChatCompletionResponse struct {
	ID                string     `json:"id"`
	Object            string     `json:"object"`
	Created           int64      `json:"created"`
	Model             string     `json:"model"`
	Choices           []Choice   `json:"choices"`
	Usage             *ChatUsage `json:"usage,omitempty"`
	SystemFingerprint *string    `json:"system_fingerprint,omitempty"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason *string         `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
}

// ResponseMessage is the assistant message inside a Choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Refusal   *string    `json:"refusal,omitempty"`
}

// ChatUsage is OpenAI-shaped token accounting.
type ChatUsage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}
