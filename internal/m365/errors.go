package m365

import (
	"encoding/json"
	"fmt"
)

// ErrorCode is one of the error codes named in the external interface.
type ErrorCode string

const (
	ErrMissingAuthorization      ErrorCode = "missing_authorization"
	ErrInvalidJSON               ErrorCode = "invalid_json"
	ErrInvalidRequest            ErrorCode = "invalid_request"
	ErrInvalidTransport          ErrorCode = "invalid_transport"
	ErrInvalidPreviousResponseID ErrorCode = "invalid_previous_response_id"
	ErrInvalidToolOutput         ErrorCode = "invalid_tool_output"
	ErrConversationIDMissing     ErrorCode = "conversation_id_missing"
	ErrGraphError                ErrorCode = "graph_error"
	ErrSubstrateError            ErrorCode = "substrate_error"
	ErrResponseNotFound          ErrorCode = "response_not_found"
	ErrMissingResponseID         ErrorCode = "missing_response_id"
	ErrResponseStreamError       ErrorCode = "response_stream_error"
)

// Error is a pipeline-level error carrying the HTTP status and OpenAI error
// code it should surface as, per the error handling design.
type Error struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func NewError(code ErrorCode, status int, message string) *Error {
	return &Error{Code: code, StatusCode: status, Message: message}
}

func WrapError(code ErrorCode, status int, message string, cause error) *Error {
	return &Error{Code: code, StatusCode: status, Message: message, cause: cause}
}

// Body renders the error as the OpenAI-conventional error envelope.
func (e *Error) Body() []byte {
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    "invalid_request_error",
			"param":   nil,
			"code":    string(e.Code),
		},
	})

	return b
}
