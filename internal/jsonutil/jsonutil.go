// Package jsonutil extracts JSON payloads from freeform text produced by LLM
// coding agents. Agent output interleaves prose, markdown, and ANSI control
// sequences with the structured artifacts we actually need (critique
// verdicts, parsed idea lists), so extraction tries a markdown code fence
// first and falls back to delimiter matching over the raw text.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes caps the size of agent output we are willing to scan.
const maxInputBytes = 10 * 1024 * 1024 // 10 MB

// reANSI matches ANSI CSI sequences that agent CLIs embed in their output.
var reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

// reFence matches a markdown code fence, optionally tagged "json". The fenced
// content is captured in subgroup 1. Dot-all mode with a non-greedy body
// stops at the first closing fence.
var reFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// First returns the first valid JSON object or array found in text, trying a
// fenced ```json block before falling back to brace matching. It returns an
// error when the input exceeds the size cap or contains no valid JSON.
func First(text string) (json.RawMessage, error) {
	if len(text) > maxInputBytes {
		return nil, fmt.Errorf("jsonutil: input exceeds %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	text = reANSI.ReplaceAllString(text, "")

	if m := reFence.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchingDelimiter(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("jsonutil: no valid JSON found in text")
}

// Decode extracts the first JSON value from text and unmarshals it into
// target.
func Decode(text string, target any) error {
	raw, err := First(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonutil: unmarshal: %w", err)
	}
	return nil
}

// matchingDelimiter returns the index of the bracket that closes the '{' or
// '[' at position start, or -1 if the text ends first. Quoted strings and
// escape sequences are respected so braces inside string values do not
// affect the depth count.
func matchingDelimiter(text string, start int) int {
	open := text[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return -1
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch ch {
			case '\\':
				i++ // skip the escaped character
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
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
