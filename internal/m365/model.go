// Package m365 implements the request-translation and streaming pipeline
// that sits between an OpenAI-compatible HTTP surface and the two upstream
// Microsoft 365 Copilot transports (Graph, Substrate).
package m365

import "encoding/json"

// ToolChoiceMode is the normalized tool_choice policy of a request.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ResponseFormatType is the normalized text.format / response_format shape.
type ResponseFormatType string

const (
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ToolDef is an accepted `type: function` tool declaration.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tooling bundles the tool-calling contract extracted from a request.
type Tooling struct {
	Tools              []ToolDef
	ToolChoiceMode     ToolChoiceMode
	ToolChoiceFuncName string
	ParallelToolCalls  bool
}

// ResponseFormat is the normalized response_format/text.format hint.
type ResponseFormat struct {
	Type   ResponseFormatType
	Schema json.RawMessage
}

// ContextMessage is one ordered non-prompt turn, or a synthetic
// OpenAI-compatibility hint injected by the parser.
type ContextMessage struct {
	Text        string
	Description string
}

// LocationHint carries the timezone/region sent to the upstream message.
type LocationHint struct {
	TimeZone        string
	CountryOrRegion string
}

// CanonicalRequest is the product of C1: every OpenAI request shape
// (Chat Completions or Responses) normalized into one internal record.
type CanonicalRequest struct {
	Model  string
	Stream bool

	PromptText        string
	AdditionalContext []ContextMessage

	LocationHint        LocationHint
	ContextualResources json.RawMessage

	Tooling        Tooling
	ResponseFormat *ResponseFormat

	ReasoningEffort string
	Temperature     *float64

	UserKey string
}

// ResponsesRequest wraps CanonicalRequest with Responses-API-specific
// continuation and echo fields.
type ResponsesRequest struct {
	CanonicalRequest

	PreviousResponseID string
	Instructions       string

	// OriginalInput is the request's `input` field, preserved verbatim so it
	// can be echoed back in the stored response body.
	OriginalInput json.RawMessage
}

// ToolCall is one accepted, normalized tool invocation.
type ToolCall struct {
	ID           string
	Name         string
	ArgumentsJSON string
}

// FinishReason is the terminal state of an assistant turn.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// AssistantResponse is the product of C6.
//
// Invariants: if ToolCalls is non-empty, Content is nil and FinishReason is
// FinishToolCalls; if StrictToolErrorMessage is set, both Content and
// ToolCalls are empty.
type AssistantResponse struct {
	Content                *string
	ToolCalls              []ToolCall
	FinishReason           FinishReason
	StrictToolErrorMessage string
}
