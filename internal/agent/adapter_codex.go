package agent

import "github.com/deadmanoz/orchestra/pkg/models"

// CodexAdapter drives the Codex CLI.
//
// Command shape: codex --json --quiet [--output-schema <path>] [--suggest] [-p <prompt>].
// The --output-schema flag points the tool at a JSON schema so review
// output comes back structured.
type CodexAdapter struct{}

func (CodexAdapter) AgentType() string { return "codex" }

func (CodexAdapter) BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string) {
	path := cfg.CLIPath
	if path == "" {
		path = "codex"
	}

	args := []string{"--json", "--quiet"}

	if cfg.SchemaPath != "" {
		args = append(args, "--output-schema", cfg.SchemaPath)
	}

	if cfg.Restricted {
		// Suggestion-only mode: review agents must not touch the
		// workspace.
		args = append(args, "--suggest")
	}

	if !cfg.UseStdin {
		args = append(args, "-p", prompt)
	}

	return path, args
}

func (CodexAdapter) Hints() []ContentHint {
	return []ContentHint{
		// Codex puts the payload under output before the common keys.
		func(data map[string]any) (string, bool) {
			if output, ok := data["output"].(string); ok {
				return output, true
			}
			return "", false
		},
	}
}
