package m365

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatRequest_RejectsEmptyMessages(t *testing.T) {
	_, err := ParseChatRequest([]byte(`{"model":"m365-copilot","messages":[]}`), ParseOptions{})

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ErrInvalidRequest, merr.Code)
}

func TestParseChatRequest_PromptIsLastUserMessage(t *testing.T) {
	body := []byte(`{
		"model": "m365-copilot",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "first question"},
			{"role": "assistant", "content": "first answer"},
			{"role": "user", "content": "second question"}
		]
	}`)

	req, err := ParseChatRequest(body, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, "second question", req.PromptText)
	assert.Len(t, req.AdditionalContext, 3)
	assert.Equal(t, "system: be terse", req.AdditionalContext[0].Text)
}

func TestParseChatRequest_ContentPartsArray(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "describe this"},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
			]}
		]
	}`)

	req, err := ParseChatRequest(body, ParseOptions{})
	require.NoError(t, err)

	assert.Contains(t, req.PromptText, "describe this")
	assert.Contains(t, req.PromptText, "[user attached image: https://example.com/a.png]")
}

func TestParseChatRequest_DefaultTimeZone(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	req, err := ParseChatRequest(body, ParseOptions{DefaultTimeZone: "America/New_York"})
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", req.LocationHint.TimeZone)
}

func TestParseChatRequest_ToolChoiceRequiredWithNoTools(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"tool_choice":"required"}`)

	_, err := ParseChatRequest(body, ParseOptions{})

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ErrInvalidRequest, merr.Code)
}

func TestParseChatRequest_ToolsInjectCompatibilityContext(t *testing.T) {
	body := []byte(`{
		"messages": [{"role": "user", "content": "what's the weather"}],
		"tools": [{"type": "function", "function": {"name": "get_weather", "parameters": {}}}],
		"tool_choice": "required"
	}`)

	req, err := ParseChatRequest(body, ParseOptions{})
	require.NoError(t, err)

	require.Len(t, req.Tooling.Tools, 1)
	assert.Equal(t, "get_weather", req.Tooling.Tools[0].Name)
	assert.Equal(t, ToolChoiceRequired, req.Tooling.ToolChoiceMode)

	found := false

	for _, c := range req.AdditionalContext {
		if c.Text == "You must call exactly one of the available tools." {
			found = true
		}
	}

	assert.True(t, found, "expected synthetic tool-choice context message")
}

func TestParseChatRequest_FunctionToolChoiceRequiresName(t *testing.T) {
	body := []byte(`{
		"messages": [{"role": "user", "content": "hi"}],
		"tool_choice": {"type": "function", "function": {}}
	}`)

	_, err := ParseChatRequest(body, ParseOptions{})

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ErrInvalidRequest, merr.Code)
}

func TestParseChatRequest_MaxAdditionalContextClamps(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "system", "content": "a"},
			{"role": "system", "content": "b"},
			{"role": "system", "content": "c"},
			{"role": "user", "content": "prompt"}
		]
	}`)

	req, err := ParseChatRequest(body, ParseOptions{MaxAdditionalContextMessages: 2})
	require.NoError(t, err)

	assert.Len(t, req.AdditionalContext, 2)
	assert.Equal(t, "system: b", req.AdditionalContext[0].Text)
	assert.Equal(t, "system: c", req.AdditionalContext[1].Text)
}
