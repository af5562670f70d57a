package transcode

import "encoding/json"

// GenerateContentRequest is the body CloudCodeRequest wraps for dispatch
// to Google's generateContent / streamGenerateContent endpoints.
type GenerateContentRequest struct {
	Contents          []GoogleContent    `json:"contents"`
	SystemInstruction *GoogleContent     `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	Tools             []GoogleTool       `json:"tools,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
	SessionID         string             `json:"sessionId,omitempty"`
}

// GoogleContent is one turn of a Gemini conversation.
type GoogleContent struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is one piece of a GoogleContent's parts array. Google's wire
// format is an untagged union distinguished by which field is present;
// Go has no sum type, so every variant's fields live on one struct and
// PartKind (computed, not serialized) tells callers which is populated.
type Part struct {
	Text string `json:"text,omitempty"`

	InlineData *InlineData `json:"inlineData,omitempty"`

	FunctionCall     *FunctionCall `json:"functionCall,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`

	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`

	Thought bool `json:"thought,omitempty"`
}

// PartKind classifies which variant of the untagged Part union is
// populated, mirroring how the Rust deserializer tries each shape.
type PartKind int

const (
	PartUnknown PartKind = iota
	PartText
	PartInlineData
	PartFunctionCall
	PartFunctionResponse
	PartThought
)

// Kind reports which variant p represents.
func (p Part) Kind() PartKind {
	switch {
	case p.FunctionCall != nil:
		return PartFunctionCall
	case p.FunctionResponse != nil:
		return PartFunctionResponse
	case p.InlineData != nil:
		return PartInlineData
	case p.Thought:
		return PartThought
	case p.Text != "":
		return PartText
	default:
		return PartUnknown
	}
}

// InlineData is a base64 inline attachment (image, etc).
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is a model-issued tool invocation.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id,omitempty"`
}

// FunctionResponse is the client's reply to a FunctionCall.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
	ID       string          `json:"id,omitempty"`
}

// GenerationConfig controls sampling and output shape.
type GenerationConfig struct {
	MaxOutputTokens  *uint32         `json:"maxOutputTokens,omitempty"`
	Temperature      *float32        `json:"temperature,omitempty"`
	TopP             *float32        `json:"topP,omitempty"`
	TopK             *uint32         `json:"topK,omitempty"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	ThinkingConfig   *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	CandidateCount   *uint32         `json:"candidateCount,omitempty"`
}

// ThinkingConfig toggles extended reasoning. ThinkingBudget is only
// meaningful for the Gemini family; Claude's Cloud Code adapter accepts
// only IncludeThoughts.
type ThinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts"`
	ThinkingBudget  uint32 `json:"thinkingBudget,omitempty"`
}

// GoogleTool wraps a set of callable function declarations.
type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// FunctionDeclaration is one callable tool's JSON-Schema signature.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolConfig controls whether/which tools the model is allowed to call.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

// FunctionCallingConfig is Gemini's tool_choice equivalent.
type FunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// GenerateContentResponse is what generateContent/streamGenerateContent
// returns.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	Error          *GoogleError    `json:"error,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// PromptFeedback reports why a prompt was blocked before generation.
type PromptFeedback struct {
	BlockReason   string            `json:"blockReason,omitempty"`
	SafetyRatings []json.RawMessage `json:"safetyRatings,omitempty"`
}

// Candidate is one generated response alternative.
type Candidate struct {
	Content       *GoogleContent    `json:"content,omitempty"`
	FinishReason  string            `json:"finishReason,omitempty"`
	SafetyRatings []json.RawMessage `json:"safetyRatings,omitempty"`
}

// UsageMetadata is Google-shaped token accounting.
type UsageMetadata struct {
	PromptTokenCount       uint32 `json:"promptTokenCount"`
	CandidatesTokenCount   uint32 `json:"candidatesTokenCount"`
	TotalTokenCount        uint32 `json:"totalTokenCount"`
	CachedContentTokenCount uint32 `json:"cachedContentTokenCount"`
}

// GoogleError is the error shape Cloud Code embeds in otherwise-200
// responses and in transport-level error bodies.
type GoogleError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// CloudCodeRequest is the outer envelope Cloud Code's endpoints expect
// around a GenerateContentRequest.
type CloudCodeRequest struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     GenerateContentRequest `json:"request"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
}

// CloudCodeResponse is the outer envelope Cloud Code wraps its response
// in.
type CloudCodeResponse struct {
	Response GenerateContentResponse `json:"response"`
	TraceID  string                  `json:"traceId,omitempty"`
	Metadata json.RawMessage         `json:"metadata,omitempty"`
}
