package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/deadmanoz/orchestra/internal/logging"
)

// ansiEscape matches CSI sequences, two-byte escapes and charset
// designations such as ESC ( B. The CLI tools in scope emit color codes even
// under their JSON output modes.
var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|[()][0-9A-Za-z]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal escape sequences from subprocess output.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// ParseOutput extracts the result-bearing JSON object from raw subprocess
// stdout. The stream may be newline-delimited JSON (stream mode), a single
// object surrounded by noise, or a mix of both with ANSI codes throughout.
//
// Objects with type "system" are protocol violations: they mean the
// stream-json filtering upstream failed and must never be used as output.
func ParseOutput(stdout string) (map[string]any, error) {
	cleaned := StripANSI(stdout)

	candidate := selectCandidate(cleaned)
	if candidate == "" {
		return nil, &Error{Op: "parse", Err: ErrParseFailure}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(candidate), &data); err != nil {
		return nil, &Error{Op: "parse", Err: ErrParseFailure}
	}

	if t, _ := data["type"].(string); t == "system" {
		logging.Error("parser: got system message instead of result (subtype=%v)", data["subtype"])
		return nil, &Error{Op: "parse", Err: ErrParseFailure}
	}

	return data, nil
}

// selectCandidate narrows the cleaned stream to a single JSON object
// string, or "" when none is found.
func selectCandidate(cleaned string) string {
	lines := strings.Split(strings.TrimSpace(cleaned), "\n")

	if len(lines) > 1 {
		// Stream-json: one JSON value per line. Prefer the last
		// result-type record, then the last assistant-type record, then
		// the last line that parses at all.
		var lastResult, lastAssistant, lastValid string

		for _, line := range lines {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
				continue
			}

			var obj map[string]any
			if err := json.Unmarshal([]byte(line), &obj); err != nil {
				continue
			}
			lastValid = line

			switch obj["type"] {
			case "result":
				lastResult = line
			case "assistant":
				lastAssistant = line
			}
		}

		if lastResult != "" {
			return lastResult
		}
		if lastAssistant != "" {
			logging.Warn("parser: no result-type record in stream output, using last assistant record")
			return lastAssistant
		}
		if lastValid != "" {
			logging.Warn("parser: no result or assistant record, falling back to last valid JSON line")
			return lastValid
		}
		// Fall through to the brace walk over the whole buffer; the
		// payload may span lines.
	}

	if obj := lastTopLevelObject(cleaned); obj != "" {
		return obj
	}

	return strings.TrimSpace(cleaned)
}

// lastTopLevelObject walks the buffer tracking string literals and escape
// sequences so braces inside JSON string values are not counted, and
// returns the last balanced top-level {...} object.
func lastTopLevelObject(s string) string {
	braceCount := 0
	jsonStart := -1
	inString := false
	escapeNext := false
	var last string

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if c == '\\' && inString {
			escapeNext = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch c {
		case '{':
			if braceCount == 0 {
				jsonStart = i
			}
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 && jsonStart != -1 {
				last = s[jsonStart : i+1]
				jsonStart = -1
			}
			if braceCount < 0 {
				braceCount = 0
			}
		}
	}

	return last
}

// ContentHint lets a tool adapter claim the text payload from a parsed
// object before the generic key walk runs. Hints never parse JSON; they
// only inspect the already-parsed object.
type ContentHint func(data map[string]any) (string, bool)

// ExtractContent locates the text payload of a parsed record, trying keys
// in a fixed priority order. A content list with no text blocks yields the
// empty string (an intermediate tool-only turn), not a serialized
// structure.
func ExtractContent(data map[string]any, hints ...ContentHint) (string, bool) {
	for _, hint := range hints {
		if text, ok := hint(data); ok {
			return text, true
		}
	}

	// result: string, or object carrying content
	if result, ok := data["result"]; ok {
		if s, ok := result.(string); ok {
			return s, true
		}
		if m, ok := result.(map[string]any); ok {
			if content, ok := m["content"]; ok {
				return flattenContent(content), true
			}
		}
	}

	// assistant records nest the content under message
	if data["type"] == "assistant" {
		if msg, ok := data["message"].(map[string]any); ok {
			if content, ok := msg["content"]; ok {
				return flattenContent(content), true
			}
		}
	}

	if content, ok := data["content"]; ok {
		return flattenContent(content), true
	}

	if msg, ok := data["message"].(string); ok {
		return msg, true
	}

	if resp, ok := data["response"].(string); ok {
		return resp, true
	}
	if resp, ok := data["response"].(map[string]any); ok {
		if content, ok := resp["content"]; ok {
			return flattenContent(content), true
		}
		if text, ok := resp["text"].(string); ok {
			return text, true
		}
	}

	if text, ok := data["text"].(string); ok {
		return text, true
	}

	if output, ok := data["output"].(string); ok {
		return output, true
	}

	// Gemini API shape: candidates[0].content.parts[0].text
	if candidates, ok := data["candidates"].([]any); ok && len(candidates) > 0 {
		if cand, ok := candidates[0].(map[string]any); ok {
			if content, ok := cand["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, true
						}
					}
				}
			}
		}
	}

	return "", false
}

// flattenContent turns a content value (string or block list) into text.
// Only text-type blocks contribute; tool_use and tool_result blocks are
// skipped. No text blocks means an intermediate tool-only turn: return "".
func flattenContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, block := range v {
			switch b := block.(type) {
			case string:
				parts = append(parts, b)
			case map[string]any:
				blockType, _ := b["type"].(string)
				if blockType == "tool_use" || blockType == "tool_result" {
					continue
				}
				if text, ok := b["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
	}
	return ""
}

// salvagePatterns recover a field value from truncated JSON. The capture
// group consumes escape pairs whole, so a terminating quote is necessarily
// unescaped; a missing terminator matches end-of-buffer instead.
var salvagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"result"\s*:\s*"((?:[^"\\]|\\.)*?)(?:"[\s,}]|"?$)`),
	regexp.MustCompile(`"content"\s*:\s*"((?:[^"\\]|\\.)*?)(?:"[\s,}]|"?$)`),
	regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*?)(?:"[\s,}]|"?$)`),
}

// Salvage attempts regex-based recovery of a text payload from a buffer
// that strict parsing did not yield a payload from: ExtractText calls it when
// ParseOutput fails or the parsed object has no recognizable text field. It
// exists for tools that truncate large payloads at fixed byte offsets.
func Salvage(cleaned string) (string, bool) {
	for _, pattern := range salvagePatterns {
		m := pattern.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		return unescapeJSON(m[1]), true
	}
	return "", false
}

// unescapeJSON decodes the standard escapes that appear in salvaged
// fragments.
func unescapeJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// ExtractText runs the full parse pipeline: strict parse, content
// extraction, then regex salvage for truncated payloads.
func ExtractText(stdout string, hints ...ContentHint) (string, error) {
	data, err := ParseOutput(stdout)
	if err == nil {
		if text, ok := ExtractContent(data, hints...); ok {
			return text, nil
		}
		// Parsed but no recognizable payload shape; fall through to
		// salvage before giving up.
	}

	if text, ok := Salvage(StripANSI(stdout)); ok {
		logging.Warn("parser: strict parse failed, regex salvage recovered %d chars", len(text))
		return text, nil
	}

	return "", &Error{Op: "parse", Err: ErrParseFailure}
}
