package xjson

import "strings"

const maxBalancedCandidates = 128

// FencedBlocks returns the body of every triple-backtick fenced code block in
// s, in order of appearance, with any leading language tag stripped.
func FencedBlocks(s string) []string {
	var blocks []string

	rest := s
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}

		rest = rest[start+3:]

		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}

		body := rest[:end]
		rest = rest[end+3:]

		// Strip a leading language tag line, e.g. "json\n{...}".
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			tag := strings.TrimSpace(body[:nl])
			if tag != "" && !strings.ContainsAny(tag, "{}[]\"") {
				body = body[nl+1:]
			}
		}

		blocks = append(blocks, strings.TrimSpace(body))
	}

	return blocks
}

// BalancedCandidates scans s for every balanced `{...}`/`[...]` substring,
// respecting JSON string escapes and quoted regions, capped at 128 results to
// bound worst-case cost on adversarial input.
func BalancedCandidates(s string) []string {
	var out []string

	for i := 0; i < len(s) && len(out) < maxBalancedCandidates; i++ {
		open := s[i]
		if open != '{' && open != '[' {
			continue
		}

		close := byte('}')
		if open == '[' {
			close = ']'
		}

		end := findBalancedEnd(s, i, open, close)
		if end < 0 {
			continue
		}

		out = append(out, s[i:end+1])

		if len(out) >= maxBalancedCandidates {
			break
		}
	}

	return out
}

// findBalancedEnd returns the index of the matching close bracket for the
// open bracket at s[start], or -1 if the candidate is never closed.
func findBalancedEnd(s string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// Candidates enumerates, in priority order, the JSON substrings a salvage
// parser should attempt: the whole trimmed text, each fenced block body, then
// every balanced brace/bracket substring. Duplicates are skipped.
func Candidates(text string) []string {
	trimmed := strings.TrimSpace(text)

	seen := make(map[string]struct{})

	var out []string

	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}

		if _, ok := seen[c]; ok {
			return
		}

		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(trimmed)

	for _, b := range FencedBlocks(text) {
		add(b)
	}

	for _, b := range BalancedCandidates(text) {
		add(b)
	}

	return out
}
