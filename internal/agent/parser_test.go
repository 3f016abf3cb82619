package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputStreamJSON(t *testing.T) {
	// ANSI-wrapped stream output: init record, tool-only assistant turn,
	// then the result.
	stdout := "\x1b[32m{\"type\":\"system\",\"subtype\":\"init\"}\n" +
		"{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"tool_use\"}]}}\n" +
		"{\"type\":\"result\",\"result\":\"hello\"}\x1b[0m"

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestParseOutputPrefersLastResult(t *testing.T) {
	stdout := `{"type":"result","result":"first"}
{"type":"assistant","message":{"content":[{"type":"text","text":"middle"}]}}
{"type":"result","result":"last"}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "last", text)
}

func TestParseOutputAssistantFallback(t *testing.T) {
	stdout := `{"type":"system","subtype":"init"}
{"type":"assistant","message":{"content":[{"type":"text","text":"from assistant"}]}}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "from assistant", text)
}

func TestParseOutputSystemOnlyIsProtocolViolation(t *testing.T) {
	_, err := ParseOutput(`{"type":"system","subtype":"init"}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestParseOutputToolUseOnlyReturnsEmpty(t *testing.T) {
	// An assistant turn with only tool_use blocks is an intermediate
	// message: the empty string, not a serialized structure.
	stdout := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"bash"},{"type":"tool_result"}]}}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestParseOutputSingleLineNoise(t *testing.T) {
	stdout := `Warming up... {"progress":1} done {"type":"result","result":"payload"}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "payload", text)
}

func TestParseOutputBracesInsideStrings(t *testing.T) {
	stdout := `{"type":"result","result":"code: func() { return \"}\" }"}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, `code: func() { return "}" }`, text)
}

func TestParseOutputDeterministic(t *testing.T) {
	stdout := "{\"type\":\"result\",\"result\":\"same\"}\n{\"other\":true}"
	first, err := ExtractText(stdout)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ExtractText(stdout)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestParseOutputRoundTrip(t *testing.T) {
	obj := map[string]any{"type": "result", "result": "round trip\nwith newline"}
	encoded, err := json.Marshal(obj)
	require.NoError(t, err)

	parsed, err := ParseOutput(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, obj, parsed)
}

func TestSalvageTruncatedResult(t *testing.T) {
	// Unterminated JSON as emitted when a tool truncates its stdout.
	stdout := `{"type":"result","result":"Line1\nLine2`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "Line1\nLine2", text)
}

func TestSalvageEscapes(t *testing.T) {
	text, ok := Salvage(`{"content":"tab\there \"quoted\" back\\slash`)
	require.True(t, ok)
	assert.Equal(t, "tab\there \"quoted\" back\\slash", text)
}

func TestSalvageKeyPriority(t *testing.T) {
	text, ok := Salvage(`{"message":"msg","result":"res`)
	require.True(t, ok)
	assert.Equal(t, "res", text)
}

func TestSalvageNothingToRecover(t *testing.T) {
	_, ok := Salvage(`{"other":"value"}`)
	assert.False(t, ok)
}

func TestExtractContentKeyOrder(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"result string", map[string]any{"result": "r"}, "r"},
		{"result object", map[string]any{"result": map[string]any{"content": "rc"}}, "rc"},
		{"content string", map[string]any{"content": "c"}, "c"},
		{"content blocks", map[string]any{"content": []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"type": "tool_use"},
			map[string]any{"type": "text", "text": "b"},
		}}, "a\nb"},
		{"message string", map[string]any{"message": "m"}, "m"},
		{"response content", map[string]any{"response": map[string]any{"content": "nested"}}, "nested"},
		{"text field", map[string]any{"text": "t"}, "t"},
		{"output field", map[string]any{"output": "o"}, "o"},
		{"candidates", map[string]any{"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{
				map[string]any{"text": "gem"},
			}}},
		}}, "gem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractContent(tt.data)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractContentHintWins(t *testing.T) {
	hint := func(data map[string]any) (string, bool) {
		if v, ok := data["custom"].(string); ok {
			return v, true
		}
		return "", false
	}

	got, ok := ExtractContent(map[string]any{"custom": "hinted", "result": "generic"}, hint)
	require.True(t, ok)
	assert.Equal(t, "hinted", got)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "plain", StripANSI("\x1b[1;32mplain\x1b[0m"))
	assert.Equal(t, "ab", StripANSI("a\x1b(Bb"))
}

func TestErrorWrapping(t *testing.T) {
	err := &Error{Op: "send", Agent: "claude_planner", Err: ErrTimeout}
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "claude_planner")

	exit := &Error{Op: "send", Err: &ExitError{Code: 2, Stderr: "boom"}}
	var exitErr *ExitError
	require.True(t, errors.As(exit, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.False(t, IsTimeout(exit))
}

func TestParseOutputManyLines(t *testing.T) {
	var stdout string
	for i := 0; i < 50; i++ {
		stdout += fmt.Sprintf("{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"turn %d\"}]}}\n", i)
	}
	stdout += `{"type":"result","result":"final"}`

	text, err := ExtractText(stdout)
	require.NoError(t, err)
	assert.Equal(t, "final", text)
}
