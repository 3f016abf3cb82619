package agent

import "github.com/deadmanoz/orchestra/pkg/models"

// GeminiAdapter drives the Gemini CLI.
//
// The prompt always goes through stdin: the tool reads stdin when no
// positional prompt is given, and stdin delivery sidesteps argv limits.
// --yolo auto-approves actions for non-review roles only.
type GeminiAdapter struct{}

func (GeminiAdapter) AgentType() string { return "gemini" }

func (GeminiAdapter) BuildArgs(cfg *models.AgentConfig, prompt string) (string, []string) {
	path := cfg.CLIPath
	if path == "" {
		path = "gemini"
	}

	args := []string{"--output-format", "json"}

	if !cfg.Restricted {
		args = append(args, "--yolo")
	}

	if !cfg.UseStdin {
		args = append(args, prompt)
	}

	return path, args
}

func (GeminiAdapter) Hints() []ContentHint {
	return []ContentHint{
		// Gemini wraps the payload in a top-level response string.
		func(data map[string]any) (string, bool) {
			if resp, ok := data["response"].(string); ok {
				return resp, true
			}
			return "", false
		},
	}
}
