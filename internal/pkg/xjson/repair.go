package xjson

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// RepairControlChars walks s character by character, tracking whether the
// cursor is inside a JSON string literal, and escapes raw newline/carriage
// return/tab bytes that appear inside string literals. Upstream assistants
// occasionally emit tool-call arguments as a JSON string containing literal
// control characters, which encoding/json refuses to parse.
func RepairControlChars(s string) string {
	out := make([]byte, 0, len(s)+8)

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case escaped:
			out = append(out, c)
			escaped = false
		case c == '\\' && inString:
			out = append(out, c)
			escaped = true
		case c == '"':
			out = append(out, c)
			inString = !inString
		case inString && c == '\n':
			out = append(out, '\\', 'n')
		case inString && c == '\r':
			out = append(out, '\\', 'r')
		case inString && c == '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, c)
		}
	}

	return string(out)
}

// SafeJSONRawMessage converts an arbitrary string into a valid JSON
// RawMessage, trying progressively more aggressive repairs:
//  1. empty/whitespace-only -> "{}"
//  2. already valid JSON -> used as-is
//  3. control-character repair pass, re-parsed
//  4. github.com/kaptinlin/jsonrepair, re-parsed
//  5. fallback -> "{}"
func SafeJSONRawMessage(s string) json.RawMessage {
	if len(s) == 0 {
		return json.RawMessage("{}")
	}

	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	if repaired := RepairControlChars(s); json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}

	if repaired, err := jsonrepair.JSONRepair(s); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}

	return json.RawMessage("{}")
}
