package agent

import (
	"context"
	"time"

	"github.com/deadmanoz/orchestra/pkg/models"
)

// Agent is one configured assistant the workflow can send prompts to.
type Agent interface {
	Config() *models.AgentConfig
	Send(ctx context.Context, prompt string) (string, error)
	// SendWithTimeout overrides the configured deadline for a single
	// call; used when the user grants a timeout extension.
	SendWithTimeout(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// cliAgent binds a config and a tool adapter to the shared Runner.
type cliAgent struct {
	cfg     models.AgentConfig
	adapter Adapter
	runner  *Runner
}

func newCLIAgent(cfg models.AgentConfig, adapter Adapter, runner *Runner) *cliAgent {
	return &cliAgent{cfg: cfg, adapter: adapter, runner: runner}
}

func (a *cliAgent) Config() *models.AgentConfig {
	return &a.cfg
}

func (a *cliAgent) Send(ctx context.Context, prompt string) (string, error) {
	return a.runner.Send(ctx, &a.cfg, a.adapter, prompt)
}

func (a *cliAgent) SendWithTimeout(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return a.runner.SendWithTimeout(ctx, &a.cfg, a.adapter, prompt, timeout)
}
