package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(method, path string, body *strings.Reader) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if body != nil {
		c.Request = httptest.NewRequest(method, path, body)
	} else {
		c.Request = httptest.NewRequest(method, path, nil)
	}

	return c, w
}

func TestHandlers_Health(t *testing.T) {
	h := &Handlers{defaultModel: "m365-copilot"}

	c, w := newTestContext(http.MethodGet, "/healthz", nil)
	h.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHandlers_ListModels(t *testing.T) {
	h := &Handlers{defaultModel: "m365-copilot"}

	c, w := newTestContext(http.MethodGet, "/v1/models", nil)
	h.ListModels(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "m365-copilot")
}

func TestInboundFromContext(t *testing.T) {
	c, _ := newTestContext(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m365-copilot"}`))
	c.Request.Header.Set("Authorization", "Bearer abc123")
	c.Request.Header.Set("x-m365-transport", " Graph ")
	c.Request.Header.Set("x-m365-new-conversation", "TRUE")

	in, err := inboundFromContext(c)
	require.NoError(t, err)

	assert.Equal(t, "Bearer abc123", in.AuthorizationHeader)
	assert.Equal(t, "graph", in.TransportHeader)
	assert.True(t, in.NewConversationHeader)
	assert.Equal(t, `{"model":"m365-copilot"}`, string(in.Body))
}

func TestWriteError_FallsBackToInternalErrorForPlainErrors(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/v1/responses/abc", nil)

	writeError(c, assertErr("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
	assert.Contains(t, w.Body.String(), "boom")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
