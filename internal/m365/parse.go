package m365

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// ParseOptions carries the config-derived knobs the parser needs.
type ParseOptions struct {
	DefaultTimeZone              string
	MaxAdditionalContextMessages int
}

// ParseChatRequest normalizes a Chat Completions request body into a
// CanonicalRequest. Returns an *Error with code invalid_request when
// `messages` is absent/empty.
func ParseChatRequest(body []byte, opts ParseOptions) (*CanonicalRequest, error) {
	root := gjson.ParseBytes(body)

	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, NewError(ErrInvalidRequest, 400, "messages is required and must be non-empty")
	}

	entries := messagesToEntries(messages.Array())

	prompt, contextEntries := splitPromptAndContext(entries)

	req := &CanonicalRequest{
		Model:             root.Get("model").String(),
		Stream:            root.Get("stream").Bool(),
		PromptText:        prompt,
		AdditionalContext: contextEntries,
		LocationHint:      parseLocationHint(root, opts.DefaultTimeZone),
		ReasoningEffort:   root.Get("reasoning_effort").String(),
	}

	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		req.Temperature = &v
	}

	req.ContextualResources = parseContextualResources(root)

	tooling, err := parseTooling(root)
	if err != nil {
		return nil, err
	}

	req.Tooling = tooling

	if rf := root.Get("response_format"); rf.Exists() {
		req.ResponseFormat = parseResponseFormat(rf)
	}

	req.UserKey = root.Get("user").String()

	injectCompatibilityContext(req, opts.MaxAdditionalContextMessages)

	return req, nil
}

type messageEntry struct {
	role string
	text string
}

// messagesToEntries converts every chat message into a flat role/text entry,
// per the textual-extraction rules of the request parser.
func messagesToEntries(messages []gjson.Result) []messageEntry {
	entries := make([]messageEntry, 0, len(messages))

	for _, m := range messages {
		role := m.Get("role").String()

		if toolCalls := m.Get("tool_calls"); toolCalls.Exists() && toolCalls.IsArray() {
			entries = append(entries, messageEntry{
				role: role,
				text: fmt.Sprintf("assistant tool_calls: %s", toolCalls.Raw),
			})

			continue
		}

		if role == "tool" {
			id := m.Get("tool_call_id").String()
			entries = append(entries, messageEntry{
				role: role,
				text: fmt.Sprintf("tool[%s]: %s", id, extractContentText(role, m.Get("content"))),
			})

			continue
		}

		entries = append(entries, messageEntry{role: role, text: extractContentText(role, m.Get("content"))})
	}

	return entries
}

// extractContentText implements §4.1's content-extraction rule: a plain
// string; an object with text/value; or an array of {type, text} parts /
// raw strings, with images rendered as "[<role> attached image: <url>]" markers.
func extractContentText(role string, content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var parts []string

		for _, part := range content.Array() {
			if part.Type == gjson.String {
				parts = append(parts, part.String())

				continue
			}

			t := part.Get("type").String()
			switch t {
			case "text", "input_text", "output_text":
				parts = append(parts, part.Get("text").String())
			case "image_url", "input_image":
				url := part.Get("image_url.url").String()
				if url == "" {
					url = part.Get("image_url").String()
				}

				parts = append(parts, fmt.Sprintf("[%s attached image: %s]", role, url))
			default:
				if txt := part.Get("text"); txt.Exists() {
					parts = append(parts, txt.String())
				}
			}
		}

		return strings.Join(parts, "\n")
	case content.IsObject():
		if v := content.Get("text"); v.Exists() {
			return v.String()
		}

		if v := content.Get("value"); v.Exists() {
			return v.String()
		}

		return content.Raw
	default:
		return content.String()
	}
}

// splitPromptAndContext implements §4.1's prompt-selection rule: the last
// message with role "user", otherwise the last message overall. Everything
// else becomes an ordered "<role>: <content>" context entry.
func splitPromptAndContext(entries []messageEntry) (string, []ContextMessage) {
	promptIdx := -1

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].role == "user" {
			promptIdx = i

			break
		}
	}

	if promptIdx < 0 {
		promptIdx = len(entries) - 1
	}

	var ctxMsgs []ContextMessage

	for i, e := range entries {
		if i == promptIdx {
			continue
		}

		ctxMsgs = append(ctxMsgs, ContextMessage{Text: fmt.Sprintf("%s: %s", e.role, e.text)})
	}

	return entries[promptIdx].text, ctxMsgs
}

func parseLocationHint(root gjson.Result, defaultTZ string) LocationHint {
	tz := root.Get("m365_time_zone").String()
	if tz == "" {
		tz = defaultTZ
	}

	return LocationHint{
		TimeZone:        tz,
		CountryOrRegion: root.Get("m365_country_or_region").String(),
	}
}

func parseContextualResources(root gjson.Result) json.RawMessage {
	if v := root.Get("m365_contextual_resources"); v.Exists() {
		return json.RawMessage(v.Raw)
	}

	return nil
}

// parseTooling implements §4.1's tooling-normalization rule.
func parseTooling(root gjson.Result) (Tooling, error) {
	var tools []ToolDef

	if raw := root.Get("tools"); raw.Exists() && raw.IsArray() {
		for _, t := range raw.Array() {
			if t.Get("type").String() != "function" {
				continue
			}

			name := t.Get("function.name").String()
			if name == "" {
				continue
			}

			params := t.Get("function.parameters")

			paramJSON := json.RawMessage("{}")
			if params.Exists() {
				paramJSON = json.RawMessage(params.Raw)
			}

			tools = append(tools, ToolDef{
				Name:        name,
				Description: t.Get("function.description").String(),
				Parameters:  paramJSON,
			})
		}
	}

	mode, fnName, err := parseToolChoice(root.Get("tool_choice"), len(tools) > 0)
	if err != nil {
		return Tooling{}, err
	}

	if mode == ToolChoiceRequired && len(tools) == 0 {
		return Tooling{}, NewError(ErrInvalidRequest, 400, "tool_choice=required with no declared tools")
	}

	return Tooling{
		Tools:              tools,
		ToolChoiceMode:     mode,
		ToolChoiceFuncName: fnName,
		ParallelToolCalls:  root.Get("parallel_tool_calls").Exists() && root.Get("parallel_tool_calls").Bool(),
	}, nil
}

func parseToolChoice(tc gjson.Result, hasTools bool) (ToolChoiceMode, string, error) {
	if !tc.Exists() {
		if hasTools {
			return ToolChoiceAuto, "", nil
		}

		return ToolChoiceNone, "", nil
	}

	if tc.Type == gjson.String {
		switch tc.String() {
		case "auto":
			return ToolChoiceAuto, "", nil
		case "none":
			return ToolChoiceNone, "", nil
		case "required":
			return ToolChoiceRequired, "", nil
		default:
			return "", "", NewError(ErrInvalidRequest, 400, "unsupported tool_choice value: "+tc.String())
		}
	}

	if tc.Get("type").String() == "function" {
		name := tc.Get("function.name").String()
		if name == "" {
			return "", "", NewError(ErrInvalidRequest, 400, "tool_choice function name is required")
		}

		return ToolChoiceFunction, name, nil
	}

	return "", "", NewError(ErrInvalidRequest, 400, "unsupported tool_choice shape")
}

func parseResponseFormat(rf gjson.Result) *ResponseFormat {
	t := rf.Get("type").String()

	switch t {
	case "json_object":
		return &ResponseFormat{Type: ResponseFormatJSONObject}
	case "json_schema":
		schema := rf.Get("json_schema")
		if !schema.Exists() {
			schema = rf.Get("schema")
		}

		return &ResponseFormat{Type: ResponseFormatJSONSchema, Schema: json.RawMessage(schema.Raw)}
	default:
		return nil
	}
}

// injectCompatibilityContext appends bounded, synthetic context messages
// describing the tool-calling contract, per §4.1's side-effect rule.
func injectCompatibilityContext(req *CanonicalRequest, maxMessages int) {
	if maxMessages <= 0 {
		maxMessages = 16
	}

	var synthetic []ContextMessage

	if len(req.Tooling.Tools) > 0 {
		names := lo.Map(req.Tooling.Tools, func(t ToolDef, _ int) string { return t.Name })
		synthetic = append(synthetic, ContextMessage{
			Text: fmt.Sprintf("Available tools: %s", strings.Join(names, ", ")),
		})

		toolsJSON, _ := json.Marshal(req.Tooling.Tools)
		synthetic = append(synthetic, ContextMessage{
			Text: fmt.Sprintf("Tool definitions (JSON): %s", string(toolsJSON)),
		})

		switch req.Tooling.ToolChoiceMode {
		case ToolChoiceRequired:
			synthetic = append(synthetic, ContextMessage{Text: "You must call exactly one of the available tools."})
		case ToolChoiceFunction:
			synthetic = append(synthetic, ContextMessage{
				Text: fmt.Sprintf("You must call the tool named %q.", req.Tooling.ToolChoiceFuncName),
			})
		}
	}

	req.AdditionalContext = append(req.AdditionalContext, synthetic...)

	if len(req.AdditionalContext) > maxMessages {
		req.AdditionalContext = req.AdditionalContext[len(req.AdditionalContext)-maxMessages:]
	}
}
