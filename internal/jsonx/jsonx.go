// Package jsonx extracts JSON payloads from model output, which routinely
// arrives wrapped in markdown fences or followed by commentary.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(text string) string {
	stripped := strings.TrimSpace(text)
	if !strings.HasPrefix(stripped, "```") {
		return stripped
	}

	lines := strings.Split(stripped, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FirstObject returns the first balanced top-level JSON object in text plus
// any trailing text after it. Fences are stripped first. String contents are
// scanned escape-aware so braces inside strings do not confuse the balance.
func FirstObject(text string) (json.RawMessage, string, error) {
	candidate := StripFences(text)
	start := strings.IndexByte(candidate, '{')
	if start == -1 {
		return nil, "", errors.New("no JSON object found in text")
	}

	depth := 0
	inString := false
	escaped := false
	end := -1

scan:
	for i := start; i < len(candidate); i++ {
		c := candidate[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
				break scan
			}
		}
	}

	if end == -1 {
		return nil, "", errors.New("unterminated JSON object in text")
	}

	raw := json.RawMessage(candidate[start : end+1])
	if !json.Valid(raw) {
		return nil, "", errors.New("extracted text is not valid JSON")
	}
	trailing := strings.TrimSpace(candidate[end+1:])
	// When the object was fenced but commentary follows the fence, the
	// closing fence line survives StripFences; it is not commentary.
	if rest, found := strings.CutPrefix(trailing, "```"); found {
		trailing = strings.TrimSpace(rest)
	}
	return raw, trailing, nil
}
