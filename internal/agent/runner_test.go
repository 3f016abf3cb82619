package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

func init() {
	logging.Initialize(false)
}

// shellAdapter runs a fixed shell script regardless of the prompt, so
// runner behavior can be exercised without any real CLI tool installed.
type shellAdapter struct {
	script string
	hints  []ContentHint
}

func (a shellAdapter) AgentType() string { return "shell" }

func (a shellAdapter) BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string) {
	return "/bin/sh", []string{"-c", a.script}
}

func (a shellAdapter) Hints() []ContentHint { return a.hints }

func testConfig(timeout time.Duration) *models.AgentConfig {
	return &models.AgentConfig{
		Name:      "shell_agent",
		AgentType: "shell",
		Role:      models.RoleGeneral,
		Timeout:   timeout,
	}
}

func TestRunnerSendSuccess(t *testing.T) {
	runner := NewRunner()

	text, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: `printf '{"type":"result","result":"done"}'`}, "prompt")

	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestRunnerSendStdin(t *testing.T) {
	runner := NewRunner()

	cfg := testConfig(10 * time.Second)
	cfg.UseStdin = true

	// The script echoes stdin back inside a JSON envelope, proving the
	// prompt travelled through the pipe and not argv.
	script := `printf '{"type":"result","result":"%s"}' "$(cat -)"`

	text, err := runner.Send(context.Background(), cfg, shellAdapter{script: script}, "via stdin")
	require.NoError(t, err)
	assert.Equal(t, "via stdin", text)
}

func TestRunnerTimeoutKillsProcess(t *testing.T) {
	runner := NewRunner()

	start := time.Now()
	_, err := runner.SendWithTimeout(context.Background(), testConfig(time.Minute),
		shellAdapter{script: `sleep 30`}, "prompt", 200*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerCancellation(t *testing.T) {
	runner := NewRunner()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Send(ctx, testConfig(time.Minute), shellAdapter{script: `sleep 30`}, "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRunnerNonzeroExit(t *testing.T) {
	runner := NewRunner()

	_, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: `echo "broken pipe" >&2; exit 3`}, "prompt")

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "broken pipe")
}

func TestRunnerEmptyOutput(t *testing.T) {
	runner := NewRunner()

	_, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: `true`}, "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestRunnerUnparseableOutput(t *testing.T) {
	runner := NewRunner()

	_, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: `echo "not json at all"`}, "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestRunnerSpawnError(t *testing.T) {
	runner := NewRunner()

	_, err := runner.Send(context.Background(), testConfig(10*time.Second), missingBinaryAdapter{}, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
}

type missingBinaryAdapter struct{}

func (missingBinaryAdapter) AgentType() string { return "missing" }

func (missingBinaryAdapter) BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string) {
	return "/nonexistent/definitely-not-a-binary", nil
}

func (missingBinaryAdapter) Hints() []ContentHint { return nil }

func TestRunnerStderrNoiseIgnoredOnSuccess(t *testing.T) {
	runner := NewRunner()

	script := `echo "warning: something" >&2; printf '{"type":"result","result":"ok"}'`
	text, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: script}, "prompt")

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestRunnerHintApplied(t *testing.T) {
	runner := NewRunner()

	hint := func(data map[string]any) (string, bool) {
		if v, ok := data["response"].(string); ok {
			return v, true
		}
		return "", false
	}

	text, err := runner.Send(context.Background(), testConfig(10*time.Second),
		shellAdapter{script: `printf '{"response":"gemini style"}'`, hints: []ContentHint{hint}}, "prompt")

	require.NoError(t, err)
	assert.Equal(t, "gemini style", text)
}
