package agent

import "github.com/deadmanoz/orchestra/pkg/models"

// ClaudeAdapter drives the Claude Code CLI.
//
// Uses --output-format json (not stream-json): stream-json has a bug where
// the subprocess terminates before flushing the final record to stdout.
// The prompt goes through stdin; plans routinely exceed argv limits.
type ClaudeAdapter struct{}

func (ClaudeAdapter) AgentType() string { return "claude" }

func (ClaudeAdapter) BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string) {
	path := cfg.CLIPath
	if path == "" {
		path = "claude"
	}

	args := []string{"--print", "--output-format", "json"}

	if cfg.Restricted {
		// Plan mode keeps the planner from executing code in the
		// workspace while drafting.
		args = append(args, "--permission-mode", "plan")
	}

	if !cfg.UseStdin {
		args = append(args, prompt)
	}

	return path, args
}

func (ClaudeAdapter) Hints() []ContentHint {
	return nil
}
