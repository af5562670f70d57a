package transcode

import "encoding/json"

// OpenAI Responses API wire types. As with openai.go, responses.rs (the
// original's type definitions) was not retrieved; these are reconstructed
// from responses_convert.rs's usage.

// ResponsesRequest is the Responses API request shape.
type ResponsesRequest struct {
	Model           string          `json:"model,omitempty"`
	Input           *ResponseInput  `json:"input,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	MaxOutputTokens *uint32         `json:"max_output_tokens,omitempty"`
	Temperature     *float32        `json:"temperature,omitempty"`
	TopP            *float32        `json:"top_p,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Tools           []ResponseTool  `json:"tools,omitempty"`
}

// ResponseInput is either plain text or a list of input items (untagged
// union, same try-each-shape decode as elsewhere in this package).
type ResponseInput struct {
	Text  string
	Items []ResponseInputItem
}

func (r *ResponseInput) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		r.Text = text
		return nil
	}
	return json.Unmarshal(data, &r.Items)
}

func (r ResponseInput) MarshalJSON() ([]byte, error) {
	if r.Items != nil {
		return json.Marshal(r.Items)
	}
	return json.Marshal(r.Text)
}

// ResponseInputItemType discriminates ResponseInputItem's tagged union.
type ResponseInputItemType string

const (
	InputItemMessage            ResponseInputItemType = "message"
	InputItemFunctionCall       ResponseInputItemType = "function_call"
	InputItemFunctionCallOutput ResponseInputItemType = "function_call_output"
)

// ResponseInputItem is one element of a Responses API input item list.
// Unrecognized/unsupported item types decode to a zero-value Type and are
// treated as Other (ignored) by the converter, mirroring the Rust enum's
// catch-all variant.
type ResponseInputItem struct {
	Type ResponseInputItemType `json:"type"`

	// message
	Role    string               `json:"role,omitempty"`
	Content *ResponseInputContent `json:"content,omitempty"`

	// function_call
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

// ResponseInputContent is either plain text or a list of input parts.
type ResponseInputContent struct {
	Text  string
	Parts []ResponseInputPart
}

func (c *ResponseInputContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}
	return json.Unmarshal(data, &c.Parts)
}

func (c ResponseInputContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ResponseInputPart is one part of a multi-part input message. Type
// selects input_text/output_text; anything else is Other (ignored).
type ResponseInputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseTool is a tool definition in the Responses API shape (flatter
// than Chat Completions' nested function object).
type ResponseTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponsesResponse is the Responses API non-streaming response shape.
type ResponsesResponse struct {
	ID                string               `json:"id"`
	Object            string               `json:"object"`
	CreatedAt         float64              `json:"created_at"`
	Model             string               `json:"model"`
	Output            []ResponseOutputItem `json:"output"`
	ParallelToolCalls bool                 `json:"parallel_tool_calls"`
	ToolChoice        string               `json:"tool_choice"`
	Tools             []ResponseTool       `json:"tools"`
	Temperature       *float32             `json:"temperature,omitempty"`
	TopP              *float32             `json:"top_p,omitempty"`
	MaxOutputTokens   *uint32              `json:"max_output_tokens,omitempty"`
	Usage             *ResponseUsage       `json:"usage,omitempty"`
	Status            string               `json:"status"`
}

// ResponseOutputItemType discriminates ResponseOutputItem.
type ResponseOutputItemType string

const (
	OutputItemMessage      ResponseOutputItemType = "message"
	OutputItemFunctionCall ResponseOutputItemType = "function_call"
	OutputItemReasoning    ResponseOutputItemType = "reasoning"
)

// ResponseOutputItem is one element of a Responses API output list.
type ResponseOutputItem struct {
	Type ResponseOutputItemType `json:"type"`

	ID     string `json:"id"`
	Status string `json:"status"`

	// message
	Role    string                  `json:"role,omitempty"`
	Content []ResponseOutputContent `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// reasoning
	Summary []ResponseOutputContent `json:"summary,omitempty"`
}

// ResponseOutputContent is a piece of message/reasoning output content.
type ResponseOutputContent struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

// ResponseUsage is Responses-API-shaped token accounting.
type ResponseUsage struct {
	InputTokens         uint32               `json:"input_tokens"`
	OutputTokens        uint32               `json:"output_tokens"`
	TotalTokens          uint32              `json:"total_tokens"`
	InputTokensDetails  *InputTokensDetails  `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *json.RawMessage     `json:"output_tokens_details,omitempty"`
}

// InputTokensDetails breaks down cached-vs-fresh input tokens.
type InputTokensDetails struct {
	CachedTokens uint32 `json:"cached_tokens"`
}
