package models

import "time"

// AgentRole determines an agent's place in a workflow and its default
// timeout.
type AgentRole string

const (
	RolePlanning AgentRole = "planning"
	RoleReview   AgentRole = "review"
	RoleSummary  AgentRole = "summary"
	RoleGeneral  AgentRole = "general"
)

// AgentConfig describes one configured CLI agent. Not persisted.
type AgentConfig struct {
	Name          string
	DisplayName   string
	Role          AgentRole
	AgentType     string
	CLIPath       string
	WorkspacePath string
	Timeout       time.Duration
	// UseStdin feeds the prompt through stdin instead of argv. Required for
	// prompts that exceed platform arg-length limits.
	UseStdin bool
	// Restricted selects each tool's restricted mode: plan mode for claude,
	// --suggest for codex, and no --yolo for gemini.
	Restricted bool
	// SchemaPath points the tool at a JSON schema for structured output.
	SchemaPath string
}
