// Package json extracts the JSON object from a model reply.
//
// Local models often wrap the object in a markdown fence or surround it with
// commentary, even in JSON mode. Object boundaries come from a scanner that
// ignores braces inside string literals.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoObject is returned when a reply holds no decodable JSON object.
var ErrNoObject = errors.New("no JSON object found")

// previewLen bounds the reply excerpt quoted in errors.
const previewLen = 100

// ExtractObject returns the first complete JSON object in response.
//
// Candidates are tried in order: the whole reply, the body of each fenced
// code block, then every balanced {...} span in the reply.
func ExtractObject(response string) (string, error) {
	trimmed := strings.TrimSpace(response)
	if isObject(trimmed) {
		return trimmed, nil
	}

	for _, block := range fencedBlocks(trimmed) {
		if isObject(block) {
			return block, nil
		}
		if obj, ok := firstObject(block); ok {
			return obj, nil
		}
	}

	if obj, ok := firstObject(trimmed); ok {
		return obj, nil
	}

	preview := trimmed
	if len(preview) > previewLen {
		preview = strings.ToValidUTF8(preview[:previewLen], "") + "..."
	}
	return "", fmt.Errorf("%w in reply: %q", ErrNoObject, preview)
}

func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj) == nil
}

// fencedBlocks returns the bodies of ``` fenced blocks, dropping the info string.
func fencedBlocks(s string) []string {
	var blocks []string
	for {
		open := strings.Index(s, "```")
		if open < 0 {
			return blocks
		}
		rest := s[open+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		body := rest[nl+1:]
		end := strings.Index(body, "```")
		if end < 0 {
			// Unterminated fence: the model ran out of tokens.
			return append(blocks, strings.TrimSpace(body))
		}
		blocks = append(blocks, strings.TrimSpace(body[:end]))
		s = body[end+3:]
	}
}

// firstObject scans s for balanced {...} spans and returns the first that decodes.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			if candidate := s[start : end+1]; isObject(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the '}' closing the '{' at start,
// skipping braces inside string literals.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return i, true
			}
		}
	}
	return 0, false
}
