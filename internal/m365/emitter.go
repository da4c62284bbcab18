package m365

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// DoneSentinel is the literal terminal line of every Chat Completions and
// Responses API SSE stream.
const DoneSentinel = "[DONE]"

func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func toWireToolCalls(calls []ToolCall) []toolCall {
	if len(calls) == 0 {
		return nil
	}

	out := make([]toolCall, len(calls))
	for i, c := range calls {
		out[i] = toolCall{ID: c.ID, Type: "function", Function: toolCallFunction{Name: c.Name, Arguments: c.ArgumentsJSON}}
	}

	return out
}

// BuildChatCompletion renders C6's output as a Chat Completions response
// object, per §4.7's non-streaming shape.
func BuildChatCompletion(model string, resp *AssistantResponse, conversationID string, includeConversationID bool) json.RawMessage {
	message := chatMessage{Role: "assistant", Content: resp.Content, ToolCalls: toWireToolCalls(resp.ToolCalls)}

	body := map[string]any{
		"id":      newCompletionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": string(resp.FinishReason)},
		},
	}

	if includeConversationID {
		body["conversation_id"] = conversationID
	}

	b, _ := json.Marshal(body)

	return b
}

type chatDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

func buildChatChunk(id, model string, created int64, delta chatDelta, finishReason string) json.RawMessage {
	var fr any
	if finishReason != "" {
		fr = finishReason
	}

	body := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": fr},
		},
	}

	b, _ := json.Marshal(body)

	return b
}

// ChatCompletionChunks builds the full buffered-assistant streaming sequence
// for Chat Completions: a role chunk, a single content-or-tool_calls chunk,
// a terminal finish_reason chunk, then the literal "[DONE]" sentinel.
func ChatCompletionChunks(model string, resp *AssistantResponse) []json.RawMessage {
	id := newCompletionID()
	created := time.Now().Unix()

	chunks := []json.RawMessage{
		buildChatChunk(id, model, created, chatDelta{Role: "assistant"}, ""),
	}

	if len(resp.ToolCalls) > 0 {
		chunks = append(chunks, buildChatChunk(id, model, created, chatDelta{ToolCalls: toWireToolCalls(resp.ToolCalls)}, ""))
	} else if resp.Content != nil {
		chunks = append(chunks, buildChatChunk(id, model, created, chatDelta{Content: resp.Content}, ""))
	}

	chunks = append(chunks, buildChatChunk(id, model, created, chatDelta{}, string(resp.FinishReason)))
	chunks = append(chunks, json.RawMessage(DoneSentinel))

	return chunks
}

// messageArrayPaths is reused by the Graph transform to search for a
// cumulative message snapshot's bot messages; see substrate.go.

// ExtractLatestAssistantText applies §4.7's prompt-exclusion rule to one
// upstream cumulative snapshot: ignore messages whose text equals the
// prompt, prefer the last other non-empty text, else fall back to the last
// non-empty text seen at all.
func ExtractLatestAssistantText(snapshot []byte, promptText string) string {
	root := gjson.ParseBytes(snapshot)

	var messages gjson.Result

	for _, path := range messageArrayPaths {
		if v := root.Get(path); v.Exists() && v.IsArray() {
			messages = v

			break
		}
	}

	if !messages.Exists() {
		return ""
	}

	var (
		lastOther    string
		lastNonEmpty string
	)

	for _, m := range messages.Array() {
		if m.Get("author").String() != "bot" {
			continue
		}

		text := firstNonEmpty(m.Get("text"), m.Get("hiddenText"), m.Get("spokenText"))
		if text == "" {
			continue
		}

		lastNonEmpty = text

		if text != promptText {
			lastOther = text
		}
	}

	if lastOther != "" {
		return lastOther
	}

	return lastNonEmpty
}

func firstNonEmpty(results ...gjson.Result) string {
	for _, r := range results {
		if r.Exists() && r.String() != "" {
			return r.String()
		}
	}

	return ""
}

// GraphDeltaTransformer implements the cumulative-snapshot-to-delta rule: a
// running `emitted` prefix gates every delta computation via strings.HasPrefix.
type GraphDeltaTransformer struct {
	promptText string
	emitted    string
}

func NewGraphDeltaTransformer(promptText string) *GraphDeltaTransformer {
	return &GraphDeltaTransformer{promptText: promptText}
}

// Next computes the delta for one new snapshot, or ("", false) if the
// snapshot isn't a true extension of what's already been emitted.
func (t *GraphDeltaTransformer) Next(snapshot []byte) (string, bool) {
	latest := ExtractLatestAssistantText(snapshot, t.promptText)
	if latest == "" || !strings.HasPrefix(latest, t.emitted) {
		return "", false
	}

	delta := latest[len(t.emitted):]
	t.emitted = latest

	if delta == "" {
		return "", false
	}

	return delta, true
}

// TrailingDelta returns the suffix of finalText not yet emitted, per the
// trailing-delta rule applied at stream termination.
func (t *GraphDeltaTransformer) TrailingDelta(finalText string) (string, bool) {
	if !strings.HasPrefix(finalText, t.emitted) {
		return "", false
	}

	delta := finalText[len(t.emitted):]
	if delta == "" {
		return "", false
	}

	t.emitted = finalText

	return delta, true
}

// ResponsesEventSequence builds the events of the Responses API's 7-event
// streaming sequence for one response, carrying the same response id on
// every event.
type ResponsesEventSequence struct {
	responseID string
	model      string
}

func NewResponsesEventSequence(model string) *ResponsesEventSequence {
	return &ResponsesEventSequence{responseID: newResponseID(), model: model}
}

func (s *ResponsesEventSequence) ResponseID() string { return s.responseID }

func (s *ResponsesEventSequence) event(eventType string, fields map[string]any) json.RawMessage {
	body := map[string]any{"type": eventType, "response": map[string]any{"id": s.responseID}}
	for k, v := range fields {
		body[k] = v
	}

	b, _ := json.Marshal(body)

	return b
}

func (s *ResponsesEventSequence) Created() json.RawMessage {
	return s.event("response.created", nil)
}

func (s *ResponsesEventSequence) InProgress() json.RawMessage {
	return s.event("response.in_progress", nil)
}

func (s *ResponsesEventSequence) OutputItemAdded(resp *AssistantResponse) json.RawMessage {
	if len(resp.ToolCalls) > 0 {
		return s.event("response.output_item.added", map[string]any{"item": buildFunctionCallItems(resp.ToolCalls)})
	}

	return s.event("response.output_item.added", map[string]any{
		"item": map[string]any{"type": "message", "role": "assistant", "content": []any{}},
	})
}

func (s *ResponsesEventSequence) OutputTextDelta(delta string) json.RawMessage {
	return s.event("response.output_text.delta", map[string]any{"delta": delta})
}

func (s *ResponsesEventSequence) OutputTextDone(text string) json.RawMessage {
	return s.event("response.output_text.done", map[string]any{"text": text})
}

func (s *ResponsesEventSequence) OutputItemDone(resp *AssistantResponse) json.RawMessage {
	return s.event("response.output_item.done", map[string]any{"item": buildResponsesOutputItem(resp)})
}

func (s *ResponsesEventSequence) Completed(body json.RawMessage) json.RawMessage {
	return s.event("response.completed", map[string]any{"response": json.RawMessage(body)})
}

func buildFunctionCallItems(calls []ToolCall) []map[string]any {
	items := make([]map[string]any, len(calls))
	for i, c := range calls {
		items[i] = map[string]any{
			"type":      "function_call",
			"call_id":   c.ID,
			"name":      c.Name,
			"arguments": c.ArgumentsJSON,
		}
	}

	return items
}

func buildResponsesOutputItem(resp *AssistantResponse) any {
	if len(resp.ToolCalls) > 0 {
		return buildFunctionCallItems(resp.ToolCalls)[0]
	}

	text := ""
	if resp.Content != nil {
		text = *resp.Content
	}

	return map[string]any{
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "output_text", "text": text},
		},
	}
}

// BuildResponsesObject renders C6's output as a Responses API response
// object, per the concrete scenario in §8: `.object == "response"`,
// `.output[0].type == "message"`, `.output_text`.
func BuildResponsesObject(req *ResponsesRequest, responseID string, resp *AssistantResponse, conversationID string, includeConversationID bool) json.RawMessage {
	var output []any

	if len(resp.ToolCalls) > 0 {
		for _, item := range buildFunctionCallItems(resp.ToolCalls) {
			output = append(output, item)
		}
	} else {
		output = append(output, buildResponsesOutputItem(resp))
	}

	outputText := ""
	if resp.Content != nil {
		outputText = *resp.Content
	}

	body := map[string]any{
		"id":          responseID,
		"object":      "response",
		"created_at":  time.Now().Unix(),
		"model":       req.Model,
		"status":      "completed",
		"output":      output,
		"output_text": outputText,
	}

	if len(req.OriginalInput) > 0 {
		body["input"] = json.RawMessage(req.OriginalInput)
	}

	if req.PreviousResponseID != "" {
		body["previous_response_id"] = req.PreviousResponseID
	}

	if includeConversationID {
		body["conversation_id"] = conversationID
	}

	b, _ := json.Marshal(body)

	return b
}
