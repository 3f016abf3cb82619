package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deadmanoz/orchestra/internal/config"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

// reviewerSlot fixes one entry of the default reviewer triple.
type reviewerSlot struct {
	name        string
	displayName string
}

// defaultReviewers is the ordered reviewer roster: one slot per tool so a
// plan gets three independent perspectives.
var defaultReviewers = []reviewerSlot{
	{name: "claude_reviewer", displayName: "Claude Reviewer"},
	{name: "codex_reviewer", displayName: "Codex Reviewer"},
	{name: "gemini_reviewer", displayName: "Gemini Reviewer"},
}

// Registry caches configured agents per (role, name) and maps name
// prefixes to tool adapters.
type Registry struct {
	cfg    *config.Config
	runner *Runner

	mu     sync.Mutex
	agents map[string]Agent

	roster []reviewerSlot
}

func NewRegistry(cfg *config.Config) (*Registry, error) {
	roster := defaultReviewers
	if override, err := config.LoadReviewerRoster(cfg.ReviewerRosterPath); err != nil {
		return nil, err
	} else if override != nil {
		roster = make([]reviewerSlot, 0, len(override.Reviewers))
		for _, r := range override.Reviewers {
			display := r.DisplayName
			if display == "" {
				display = r.Name
			}
			roster = append(roster, reviewerSlot{name: r.Name, displayName: display})
		}
	}

	return &Registry{
		cfg:    cfg,
		runner: NewRunner(),
		agents: make(map[string]Agent),
		roster: roster,
	}, nil
}

// Get returns the cached agent for (role, name), creating it on first use.
func (r *Registry) Get(role models.AgentRole, name, workspacePath string) Agent {
	return r.get(role, name, name, workspacePath)
}

func (r *Registry) get(role models.AgentRole, name, displayName, workspacePath string) Agent {
	key := fmt.Sprintf("%s_%s", role, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[key]; ok {
		return agent
	}

	agent := r.build(role, name, displayName, workspacePath)
	r.agents[key] = agent
	return agent
}

func (r *Registry) build(role models.AgentRole, name, displayName, workspacePath string) Agent {
	if workspacePath == "" {
		workspacePath = r.cfg.WorkingDirectory
	}

	cfg := models.AgentConfig{
		Name:          name,
		DisplayName:   displayName,
		Role:          role,
		WorkspacePath: workspacePath,
		Timeout:       r.timeoutForRole(role),
	}

	if r.cfg.UseMockAgents {
		return NewMockAgent(cfg)
	}

	switch {
	case strings.HasPrefix(name, "claude"):
		cfg.AgentType = "claude"
		cfg.CLIPath = r.cfg.ClaudeCLIPath
		cfg.UseStdin = true
		// Planning must not execute code while drafting.
		cfg.Restricted = role == models.RolePlanning
		return newCLIAgent(cfg, ClaudeAdapter{}, r.runner)
	case strings.HasPrefix(name, "codex"):
		cfg.AgentType = "codex"
		cfg.CLIPath = r.cfg.CodexCLIPath
		cfg.Restricted = role == models.RoleReview
		return newCLIAgent(cfg, CodexAdapter{}, r.runner)
	case strings.HasPrefix(name, "gemini"):
		cfg.AgentType = "gemini"
		cfg.CLIPath = r.cfg.GeminiCLIPath
		cfg.UseStdin = true
		cfg.Restricted = role == models.RoleReview
		return newCLIAgent(cfg, GeminiAdapter{}, r.runner)
	default:
		logging.Warn("unknown agent type for %q, falling back to mock", name)
		return NewMockAgent(cfg)
	}
}

func (r *Registry) timeoutForRole(role models.AgentRole) time.Duration {
	switch role {
	case models.RolePlanning:
		return r.cfg.PlanningTimeout
	case models.RoleReview:
		return r.cfg.ReviewTimeout
	case models.RoleSummary:
		return r.cfg.SummaryTimeout
	default:
		return r.cfg.AgentTimeout
	}
}

// ReviewAgents returns the ordered reviewer set for a workspace.
func (r *Registry) ReviewAgents(workspacePath string) []Agent {
	agents := make([]Agent, 0, len(r.roster))
	for _, slot := range r.roster {
		agents = append(agents, r.get(models.RoleReview, slot.name, slot.displayName, workspacePath))
	}
	return agents
}

// SummaryAgent returns the agent used for consolidating review feedback.
func (r *Registry) SummaryAgent(workspacePath string) Agent {
	return r.get(models.RoleSummary, "claude_summary", "Claude Summary", workspacePath)
}

// StopAll drains the cache. In-flight calls finish; their subprocesses are
// owned by the call, not the cache.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]Agent)
}
