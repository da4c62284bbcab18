package m365

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Body(t *testing.T) {
	err := NewError(ErrInvalidJSON, 400, "request body is not valid JSON")

	var decoded map[string]map[string]any

	require.NoError(t, json.Unmarshal(err.Body(), &decoded))

	assert.Equal(t, "request body is not valid JSON", decoded["error"]["message"])
	assert.Equal(t, "invalid_request_error", decoded["error"]["type"])
	assert.Nil(t, decoded["error"]["param"])
	assert.Equal(t, "invalid_json", decoded["error"]["code"])
}

func TestWrapError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(ErrGraphError, 502, "create conversation failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "graph_error")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_AsUnwrapsThroughErrorsJoin(t *testing.T) {
	merr := NewError(ErrMissingAuthorization, 401, "missing bearer token")
	wrapped := errWrap(merr)

	var target *Error

	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrMissingAuthorization, target.Code)
}

func errWrap(err error) error {
	return errors.Join(err)
}
