package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration surface.
type Config struct {
	Environment string
	Debug       bool

	// API settings are consumed by the external HTTP layer; the runtime
	// only carries them.
	APIHost     string
	APIPort     int
	CORSOrigins []string

	DatabasePath string

	// Agents
	UseMockAgents      bool
	AgentTimeout       time.Duration
	PlanningTimeout    time.Duration
	ReviewTimeout      time.Duration
	SummaryTimeout     time.Duration
	ClaudeCLIPath      string
	CodexCLIPath       string
	GeminiCLIPath      string
	WorkingDirectory   string
	ReviewerRosterPath string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", true)
	v.SetDefault("api_host", "0.0.0.0")
	v.SetDefault("api_port", 3030)
	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("database_path", "data/orchestra.db")
	v.SetDefault("use_mock_agents", true)
	v.SetDefault("agent_timeout", 300)
	v.SetDefault("planning_agent_timeout", 600)
	v.SetDefault("review_agent_timeout", 300)
	v.SetDefault("summary_agent_timeout", 180)
	v.SetDefault("claude_cli_path", "claude")
	v.SetDefault("codex_cli_path", "codex")
	v.SetDefault("gemini_cli_path", "gemini")
	v.SetDefault("working_directory", "./workspace")
	v.SetDefault("reviewer_roster_path", "")
}

// Load reads configuration from environment variables and an optional
// config file discovered in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRA")
	v.AutomaticEnv()

	v.SetConfigName("orchestra")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/orchestra")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	env := v.GetString("environment")
	if env != "development" && env != "production" {
		return nil, fmt.Errorf("invalid environment %q (want development or production)", env)
	}

	cfg := &Config{
		Environment:        env,
		Debug:              v.GetBool("debug"),
		APIHost:            v.GetString("api_host"),
		APIPort:            v.GetInt("api_port"),
		CORSOrigins:        parseCORSOrigins(v.GetString("cors_origins")),
		DatabasePath:       v.GetString("database_path"),
		UseMockAgents:      v.GetBool("use_mock_agents"),
		AgentTimeout:       time.Duration(v.GetInt("agent_timeout")) * time.Second,
		PlanningTimeout:    time.Duration(v.GetInt("planning_agent_timeout")) * time.Second,
		ReviewTimeout:      time.Duration(v.GetInt("review_agent_timeout")) * time.Second,
		SummaryTimeout:     time.Duration(v.GetInt("summary_agent_timeout")) * time.Second,
		ClaudeCLIPath:      v.GetString("claude_cli_path"),
		CodexCLIPath:       v.GetString("codex_cli_path"),
		GeminiCLIPath:      v.GetString("gemini_cli_path"),
		WorkingDirectory:   v.GetString("working_directory"),
		ReviewerRosterPath: v.GetString("reviewer_roster_path"),
	}

	return cfg, nil
}

// parseCORSOrigins splits a comma-separated origin list, dropping empties.
func parseCORSOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{"http://localhost:5173"}
	}
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:5173"}
	}
	return origins
}
