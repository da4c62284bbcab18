package m365

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func contentPtr(s string) *string { return &s }

func TestBuildChatCompletion(t *testing.T) {
	resp := &AssistantResponse{Content: contentPtr("hello there"), FinishReason: FinishStop}

	body := BuildChatCompletion("m365-copilot", resp, "conv_1", true)

	result := gjson.ParseBytes(body)
	assert.Equal(t, "chat.completion", result.Get("object").String())
	assert.Equal(t, "hello there", result.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", result.Get("choices.0.finish_reason").String())
	assert.Equal(t, "conv_1", result.Get("conversation_id").String())
}

func TestBuildChatCompletion_OmitsConversationIDWhenDisabled(t *testing.T) {
	resp := &AssistantResponse{Content: contentPtr("hi"), FinishReason: FinishStop}

	body := BuildChatCompletion("m365-copilot", resp, "conv_1", false)

	assert.False(t, gjson.GetBytes(body, "conversation_id").Exists())
}

func TestChatCompletionChunks_EndsWithDoneSentinel(t *testing.T) {
	resp := &AssistantResponse{Content: contentPtr("hi"), FinishReason: FinishStop}

	chunks := ChatCompletionChunks("m365-copilot", resp)

	require.Len(t, chunks, 4)
	assert.Equal(t, json.RawMessage(DoneSentinel), chunks[len(chunks)-1])

	last := gjson.ParseBytes(chunks[2])
	assert.Equal(t, "stop", last.Get("choices.0.finish_reason").String())
}

func TestChatCompletionChunks_ToolCalls(t *testing.T) {
	resp := &AssistantResponse{
		ToolCalls:    []ToolCall{{ID: "call_1", Name: "get_weather", ArgumentsJSON: `{"city":"nyc"}`}},
		FinishReason: FinishToolCalls,
	}

	chunks := ChatCompletionChunks("m365-copilot", resp)

	toolChunk := gjson.ParseBytes(chunks[1])
	assert.Equal(t, "get_weather", toolChunk.Get("choices.0.delta.tool_calls.0.function.name").String())
}

func TestExtractLatestAssistantText_PrefersNonPromptEcho(t *testing.T) {
	snapshot := []byte(`{
		"messages": [
			{"author": "user", "text": "what's the weather"},
			{"author": "bot", "text": "what's the weather"},
			{"author": "bot", "text": "it's sunny"}
		]
	}`)

	got := ExtractLatestAssistantText(snapshot, "what's the weather")
	assert.Equal(t, "it's sunny", got)
}

func TestExtractLatestAssistantText_FallsBackWhenOnlyEchoSeen(t *testing.T) {
	snapshot := []byte(`{"messages": [{"author": "bot", "text": "echoed prompt"}]}`)

	got := ExtractLatestAssistantText(snapshot, "echoed prompt")
	assert.Equal(t, "echoed prompt", got)
}

func TestGraphDeltaTransformer_Next(t *testing.T) {
	tr := NewGraphDeltaTransformer("prompt")

	delta, ok := tr.Next([]byte(`{"messages":[{"author":"bot","text":"Hel"}]}`))
	require.True(t, ok)
	assert.Equal(t, "Hel", delta)

	delta, ok = tr.Next([]byte(`{"messages":[{"author":"bot","text":"Hello"}]}`))
	require.True(t, ok)
	assert.Equal(t, "lo", delta)

	_, ok = tr.Next([]byte(`{"messages":[{"author":"bot","text":"Hello"}]}`))
	assert.False(t, ok, "no new suffix should report false")
}

func TestGraphDeltaTransformer_Next_NonExtensionIsRejected(t *testing.T) {
	tr := NewGraphDeltaTransformer("prompt")

	_, ok := tr.Next([]byte(`{"messages":[{"author":"bot","text":"Hello"}]}`))
	require.True(t, ok)

	_, ok = tr.Next([]byte(`{"messages":[{"author":"bot","text":"Goodbye"}]}`))
	assert.False(t, ok)
}

func TestGraphDeltaTransformer_TrailingDelta(t *testing.T) {
	tr := NewGraphDeltaTransformer("prompt")

	_, _ = tr.Next([]byte(`{"messages":[{"author":"bot","text":"Hel"}]}`))

	delta, ok := tr.TrailingDelta("Hello world")
	require.True(t, ok)
	assert.Equal(t, "lo world", delta)

	_, ok = tr.TrailingDelta("Hello world")
	assert.False(t, ok)
}

func TestResponsesEventSequence_EventPayloads(t *testing.T) {
	seq := NewResponsesEventSequence("m365-copilot")

	created := gjson.ParseBytes(seq.Created())
	assert.Equal(t, "response.created", created.Get("type").String())
	assert.Equal(t, seq.ResponseID(), created.Get("response.id").String())

	delta := gjson.ParseBytes(seq.OutputTextDelta("hi"))
	assert.Equal(t, "hi", delta.Get("delta").String())

	done := gjson.ParseBytes(seq.OutputTextDone("hi there"))
	assert.Equal(t, "hi there", done.Get("text").String())
}

func TestBuildResponsesObject(t *testing.T) {
	req := &ResponsesRequest{CanonicalRequest: CanonicalRequest{Model: "m365-copilot"}, PreviousResponseID: "resp_prev"}
	resp := &AssistantResponse{Content: contentPtr("the answer"), FinishReason: FinishStop}

	body := BuildResponsesObject(req, "resp_new", resp, "conv_1", true)

	result := gjson.ParseBytes(body)
	assert.Equal(t, "response", result.Get("object").String())
	assert.Equal(t, "the answer", result.Get("output_text").String())
	assert.Equal(t, "resp_prev", result.Get("previous_response_id").String())
	assert.Equal(t, "conv_1", result.Get("conversation_id").String())
	assert.Equal(t, "message", result.Get("output.0.type").String())
}
