package m365

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseResponsesRequest normalizes a Responses API request body into a
// ResponsesRequest, per §4.1's Responses-parser additions.
func ParseResponsesRequest(body []byte, opts ParseOptions) (*ResponsesRequest, error) {
	root := gjson.ParseBytes(body)

	input := root.Get("input")
	if !input.Exists() {
		return nil, NewError(ErrInvalidRequest, 400, "input is required")
	}

	messagesJSON, err := inputToMessages(input)
	if err != nil {
		return nil, err
	}

	instructions := root.Get("instructions").String()

	if instructions != "" {
		messagesJSON, err = prependSystemIfAbsent(messagesJSON, instructions)
		if err != nil {
			return nil, err
		}
	}

	synthBody, err := sjson.SetRawBytes(body, "messages", messagesJSON)
	if err != nil {
		return nil, fmt.Errorf("build synthetic chat body: %w", err)
	}

	if tf := root.Get("text.format"); tf.Exists() {
		synthBody, err = sjson.SetRawBytes(synthBody, "response_format", []byte(tf.Raw))
		if err != nil {
			return nil, fmt.Errorf("map text.format: %w", err)
		}
	}

	if re := root.Get("reasoning.effort"); re.Exists() {
		synthBody, err = sjson.SetBytes(synthBody, "reasoning_effort", re.String())
		if err != nil {
			return nil, fmt.Errorf("map reasoning.effort: %w", err)
		}
	}

	canonical, err := ParseChatRequest(synthBody, opts)
	if err != nil {
		return nil, err
	}

	return &ResponsesRequest{
		CanonicalRequest:   *canonical,
		PreviousResponseID: root.Get("previous_response_id").String(),
		Instructions:       instructions,
		OriginalInput:      json.RawMessage(input.Raw),
	}, nil
}

// inputToMessages translates the Responses API `input` field (a string, or
// an array of message/function_call/function_call_output items) into a
// synthetic `messages` array shaped like Chat Completions.
func inputToMessages(input gjson.Result) (json.RawMessage, error) {
	if input.Type == gjson.String {
		msg := map[string]any{"role": "user", "content": input.String()}
		b, _ := json.Marshal([]any{msg})

		return b, nil
	}

	if !input.IsArray() {
		return nil, NewError(ErrInvalidRequest, 400, "input must be a string or array")
	}

	var messages []map[string]any

	for _, item := range input.Array() {
		itemType := item.Get("type").String()

		switch itemType {
		case "function_call":
			messages = append(messages, map[string]any{
				"role": "assistant",
				"tool_calls": []any{
					map[string]any{
						"id":   item.Get("call_id").String(),
						"type": "function",
						"function": map[string]any{
							"name":      item.Get("name").String(),
							"arguments": item.Get("arguments").String(),
						},
					},
				},
			})
		case "function_call_output":
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": item.Get("call_id").String(),
				"content":      item.Get("output").String(),
			})
		case "message", "":
			role := item.Get("role").String()
			if role == "" {
				role = "user"
			}

			content := item.Get("content")

			var contentValue any
			if content.Exists() {
				contentValue = json.RawMessage(content.Raw)
			} else {
				contentValue = item.Get("text").String()
			}

			messages = append(messages, map[string]any{"role": role, "content": contentValue})
		default:
			// Unknown item kinds are ignored; they carry no textual content
			// the canonical model can represent.
		}
	}

	if len(messages) == 0 {
		return nil, NewError(ErrInvalidRequest, 400, "input yielded no textual items")
	}

	return json.Marshal(messages)
}

// prependSystemIfAbsent promotes `instructions` to a leading system-like
// context entry when the messages array does not already start with one.
func prependSystemIfAbsent(messagesJSON json.RawMessage, instructions string) (json.RawMessage, error) {
	arr := gjson.ParseBytes(messagesJSON)
	if arr.IsArray() {
		items := arr.Array()
		if len(items) > 0 && (items[0].Get("role").String() == "system" || items[0].Get("role").String() == "developer") {
			return messagesJSON, nil
		}
	}

	var rest []json.RawMessage
	if err := json.Unmarshal(messagesJSON, &rest); err != nil {
		return nil, fmt.Errorf("decode messages for instructions prepend: %w", err)
	}

	sysMsg, err := json.Marshal(map[string]any{"role": "system", "content": instructions})
	if err != nil {
		return nil, err
	}

	return json.Marshal(append([]json.RawMessage{sysMsg}, rest...))
}
