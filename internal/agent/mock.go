package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/deadmanoz/orchestra/pkg/models"
)

// MockAgent produces canned responses without spawning a subprocess.
// Used in development and tests when no CLI tools are installed.
type MockAgent struct {
	cfg models.AgentConfig
	// Latency simulates tool runtime. Zero means no delay.
	Latency time.Duration
	// Respond overrides the canned response when set.
	Respond func(prompt string) (string, error)
}

func NewMockAgent(cfg models.AgentConfig) *MockAgent {
	cfg.AgentType = "mock"
	return &MockAgent{cfg: cfg, Latency: 100 * time.Millisecond}
}

func (a *MockAgent) Config() *models.AgentConfig {
	return &a.cfg
}

func (a *MockAgent) Send(ctx context.Context, prompt string) (string, error) {
	return a.SendWithTimeout(ctx, prompt, a.cfg.Timeout)
}

func (a *MockAgent) SendWithTimeout(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return "", &Error{Op: "send", Agent: a.cfg.Name, Err: ErrCancelled}
		}
	}

	if a.Respond != nil {
		return a.Respond(prompt)
	}

	switch a.cfg.Role {
	case models.RolePlanning:
		return mockPlan, nil
	case models.RoleReview:
		return fmt.Sprintf(mockReview, a.cfg.DisplayName), nil
	default:
		preview := prompt
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return fmt.Sprintf("Mock response from %s for: %s...", a.cfg.Name, preview), nil
	}
}

const mockPlan = `# Development Plan

## Overview
Based on the requirements provided, here's a comprehensive plan for
implementation.

## Architecture
- **Backend**: REST API service
- **Frontend**: Single-page application
- **Database**: SQLite for development, PostgreSQL for production

## Implementation Steps

### Phase 1: Core Setup
1. Initialize project structure
2. Set up database schema
3. Create basic API endpoints

### Phase 2: Feature Development
1. Implement core business logic
2. Build user interface components
3. Add real-time updates

### Phase 3: Testing & Quality
1. Write comprehensive unit tests
2. Perform integration testing
3. Conduct security audit

## Risks & Mitigation
1. **Risk**: Third-party API downtime
   - **Mitigation**: Retry logic and fallback mechanisms
2. **Risk**: Database scaling issues
   - **Mitigation**: Plan the PostgreSQL migration path early
`

const mockReview = `# Review Feedback (%s)

## Overall Assessment
The plan is well-structured and demonstrates good understanding of the
problem.

## Concerns & Recommendations

### 1. Database Strategy
The SQLite to PostgreSQL migration should be planned from the start; a
late migration is risky.

### 2. Testing Phase Timing
Testing placed after all development is risky. Tests should be written
alongside features, not after.

### 3. Authentication Details
The authentication section lacks specifics: auth method, roles, and
password hashing strategy should be named before implementation.
`
