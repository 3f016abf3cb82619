package planreview

import (
	"fmt"
	"strings"
)

// historyTruncateLimit bounds the turns quoted into revision prompts (planner
// and reviewer turns in the planner's prompt, user turns in the reviewers'
// prompt) so the transcript section stays manageable.
const historyTruncateLimit = 500

func planningInitialPrompt(requirements string) string {
	return fmt.Sprintf(`You are a PLANNING AGENT helping develop a comprehensive plan.

The user has the following requirements:

%s

Please create a detailed development plan that addresses these requirements.
Include:
- Architecture overview
- Implementation steps
- Timeline estimates
- Potential challenges

Your plan will be reviewed by multiple REVIEW AGENTS before implementation.
`, requirements)
}

// planningHistoryPrompt builds the revision prompt from the full
// conversation so the agent understands previous iterations and why
// changes were requested.
func planningHistoryPrompt(messages []Message, feedback []ReviewFeedback) string {
	var history strings.Builder
	history.WriteString("Here is the conversation history so far:\n")

	for _, msg := range messages {
		var role string
		switch {
		case msg.Role == "user":
			role = "USER"
		case msg.Role == "planner":
			role = "YOU (previous iteration)"
		default:
			role = fmt.Sprintf("REVIEW AGENT (%s)", msg.Name)
		}

		content := msg.Content
		if msg.Role != "user" && len(content) > historyTruncateLimit {
			content = content[:historyTruncateLimit] + "..."
		}

		fmt.Fprintf(&history, "\n--- %s ---\n%s\n", role, content)
	}

	feedbackSection := ""
	if len(feedback) > 0 {
		feedbackSection = fmt.Sprintf("\n\nThe REVIEW AGENTS have provided new feedback:\n\n%s\n\n", feedbackBlock(feedback))
	}

	return fmt.Sprintf(`%s
%s
Based on the conversation history above, please revise your plan.

IMPORTANT:
- Reference what was tried before and why it didn't work
- Address all feedback from review agents
- Build on previous iterations rather than starting from scratch
- Remember user preferences expressed in earlier messages

Provide your revised plan now.
`, history.String(), feedbackSection)
}

// feedbackBlock frames each reviewer's feedback with explicit delimiters.
// Generic identifiers keep individual tools anonymous to each other.
func feedbackBlock(feedback []ReviewFeedback) string {
	blocks := make([]string, 0, len(feedback))
	for _, fb := range feedback {
		blocks = append(blocks, fmt.Sprintf("**** %s FEEDBACK START ****\n%s\n**** %s FEEDBACK END ****",
			fb.AgentIdentifier, fb.Feedback, fb.AgentIdentifier))
	}
	return strings.Join(blocks, "\n\n")
}

func reviewRequestPrompt(plan, identifier string) string {
	return fmt.Sprintf(`You are a REVIEW AGENT (%s) helping review a development plan.

The PLANNING AGENT has prepared the following plan:

**** PLAN START ****
%s
**** PLAN END ****

Please provide expert review feedback on the plan.
Focus on:
- Technical feasibility
- Architecture concerns
- Missing considerations
- Timeline realism
- Security and scalability

Provide direct, unambiguous feedback that will help improve the plan.
`, identifier, plan)
}

// reviewHistoryPrompt is used on revision rounds: reviewers see the prior
// conversation so they can confirm their earlier concerns were addressed.
func reviewHistoryPrompt(messages []Message, plan, identifier string) string {
	var history strings.Builder
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		content := msg.Content
		if len(content) > historyTruncateLimit {
			content = content[:historyTruncateLimit] + "..."
		}
		fmt.Fprintf(&history, "--- USER ---\n%s\n\n", content)
	}

	return fmt.Sprintf(`You are a REVIEW AGENT (%s) reviewing a revised development plan.

User direction so far:

%s
The PLANNING AGENT has revised the plan:

**** PLAN START ****
%s
**** PLAN END ****

Check whether earlier concerns were addressed, then provide expert review
feedback. Focus on:
- Technical feasibility
- Architecture concerns
- Missing considerations
- Security and scalability

Provide direct, unambiguous feedback that will help improve the plan.
`, identifier, history.String(), plan)
}

// consolidateReviews renders the review round into one editable document.
func consolidateReviews(feedback []ReviewFeedback) string {
	var b strings.Builder
	b.WriteString("=== CONSOLIDATED REVIEW FEEDBACK ===\n\n")

	for _, fb := range feedback {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n%s\n\n", fb.AgentIdentifier, fb.Feedback, strings.Repeat("=", 60))
	}

	b.WriteString("\n=== USER CONSOLIDATION ===\n")
	b.WriteString("[Edit this section to provide consolidated feedback to the PLANNING AGENT]\n\n")

	return b.String()
}
