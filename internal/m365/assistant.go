package m365

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/looplj/m365gateway/internal/pkg/xjson"
)

// BuildAssistantResponse is C6: it turns raw upstream assistant text into a
// normalized AssistantResponse, extracting and validating tool calls under
// the request's tool-choice policy.
func BuildAssistantResponse(req *CanonicalRequest, rawText string) *AssistantResponse {
	if len(req.Tooling.Tools) > 0 && req.Tooling.ToolChoiceMode != ToolChoiceNone {
		if calls, ok := extractToolCalls(rawText, req.Tooling); ok {
			return &AssistantResponse{ToolCalls: calls, FinishReason: FinishToolCalls}
		}

		if req.Tooling.ToolChoiceMode == ToolChoiceRequired || req.Tooling.ToolChoiceMode == ToolChoiceFunction {
			return &AssistantResponse{
				FinishReason:           FinishStop,
				StrictToolErrorMessage: strictErrorMessage(req.Tooling),
			}
		}
	}

	content := rawText
	if req.ResponseFormat != nil {
		content = normalizeContentForFormat(rawText, req.ResponseFormat)
	}

	return &AssistantResponse{Content: &content, FinishReason: FinishStop}
}

func strictErrorMessage(t Tooling) string {
	if t.ToolChoiceMode == ToolChoiceFunction {
		return fmt.Sprintf("the model did not call the required tool %q", t.ToolChoiceFuncName)
	}

	return "the model did not call any of the required tools"
}

// extractToolCalls enumerates candidate JSON substrings and returns the
// accepted tool calls from the first candidate that yields at least one.
func extractToolCalls(text string, tooling Tooling) ([]ToolCall, bool) {
	allowed := lo.Map(tooling.Tools, func(t ToolDef, _ int) string { return t.Name })

	for _, candidate := range xjson.Candidates(text) {
		if !gjson.Valid(candidate) {
			continue
		}

		node := gjson.Parse(candidate)

		if calls := probeToolCallShapes(node, tooling, allowed); len(calls) > 0 {
			return calls, true
		}
	}

	return nil, false
}

// probeToolCallShapes tries every known tool-call container shape against one
// parsed candidate node, in priority order.
func probeToolCallShapes(node gjson.Result, tooling Tooling, allowed []string) []ToolCall {
	if calls := acceptToolCallArray(node.Get("tool_calls"), tooling, allowed); len(calls) > 0 {
		return calls
	}

	if calls := acceptToolCallArray(node.Get("message.tool_calls"), tooling, allowed); len(calls) > 0 {
		return calls
	}

	for _, choice := range node.Get("choices").Array() {
		if calls := acceptToolCallArray(choice.Get("message.tool_calls"), tooling, allowed); len(calls) > 0 {
			return calls
		}

		if calls := acceptToolCallArray(choice.Get("delta.tool_calls"), tooling, allowed); len(calls) > 0 {
			return calls
		}
	}

	var fromOutput []ToolCall

	for _, item := range node.Get("output").Array() {
		if item.Get("type").String() != "function_call" {
			continue
		}

		if call, ok := acceptSingleCall(item, tooling, allowed); ok {
			fromOutput = append(fromOutput, call)
		}
	}

	if len(fromOutput) > 0 {
		return fromOutput
	}

	if call, ok := acceptSingleCall(node, tooling, allowed); ok {
		return []ToolCall{call}
	}

	if fn := node.Get("function"); fn.Exists() {
		if call, ok := acceptSingleCall(fn, tooling, allowed); ok {
			return []ToolCall{call}
		}
	}

	return nil
}

func acceptToolCallArray(arr gjson.Result, tooling Tooling, allowed []string) []ToolCall {
	if !arr.Exists() || !arr.IsArray() {
		return nil
	}

	var calls []ToolCall

	for _, item := range arr.Array() {
		node := item
		if fn := item.Get("function"); fn.Exists() {
			node = fn
		}

		id := item.Get("id").String()

		if call, ok := acceptSingleCall(node, tooling, allowed); ok {
			if id != "" {
				call.ID = id
			}

			calls = append(calls, call)
		}
	}

	return calls
}

// acceptSingleCall validates and normalizes a {name, arguments} shaped node
// (optionally nested under call_id/name/arguments directly), applying the
// accept rule: extractable name, tool-choice-function match, declared tool.
func acceptSingleCall(node gjson.Result, tooling Tooling, allowed []string) (ToolCall, bool) {
	name := node.Get("name").String()
	if name == "" {
		return ToolCall{}, false
	}

	if tooling.ToolChoiceMode == ToolChoiceFunction && name != tooling.ToolChoiceFuncName {
		return ToolCall{}, false
	}

	if !lo.Contains(allowed, name) {
		return ToolCall{}, false
	}

	argsNode := node.Get("arguments")

	id := node.Get("call_id").String()
	if id == "" {
		id = fmt.Sprintf("call_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
	}

	return ToolCall{
		ID:            id,
		Name:          name,
		ArgumentsJSON: normalizeArguments(argsNode),
	}, true
}

// normalizeArguments canonicalizes a tool call's `arguments` node to a valid
// JSON string, per §4.6's argument-normalization rule: try as-is, then a
// control-character repair pass, then jsonrepair, then wrap the original
// string under an "input" key as a last resort.
func normalizeArguments(argsNode gjson.Result) string {
	if !argsNode.Exists() {
		return "{}"
	}

	if argsNode.Type != gjson.String {
		return argsNode.Raw
	}

	s := argsNode.String()
	if s == "" {
		return "{}"
	}

	if json.Valid([]byte(s)) {
		return s
	}

	if repaired := xjson.RepairControlChars(s); json.Valid([]byte(repaired)) {
		return repaired
	}

	if repaired, err := jsonrepair.JSONRepair(s); err == nil && json.Valid([]byte(repaired)) {
		return repaired
	}

	wrapped, _ := json.Marshal(map[string]string{"input": s})

	return string(wrapped)
}

// normalizeContentForFormat re-extracts a JSON node from the assistant text
// when a response_format was requested, falling back to the raw text.
func normalizeContentForFormat(rawText string, format *ResponseFormat) string {
	for _, candidate := range xjson.Candidates(rawText) {
		if !gjson.Valid(candidate) {
			continue
		}

		node := gjson.Parse(candidate)

		if format.Type == ResponseFormatJSONObject && !node.IsObject() {
			continue
		}

		return node.Raw
	}

	return rawText
}
