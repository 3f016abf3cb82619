package review

import (
	"regexp"
	"strings"

	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/pkg/models"
)

var (
	verdictsBlockPattern = regexp.MustCompile("(?is)```verdicts\\s*(.*?)\\s*```")
	verdictLinePattern   = regexp.MustCompile(`(?i)(REVIEW\s+AGENT\s+\d+)\s*:\s*(APPROVED_WITH_SUGGESTIONS|APPROVED|NEEDS_REVISION)`)
)

// ParseVerdicts extracts explicit per-reviewer verdicts from a summary
// agent's output. Expected shape:
//
//	```verdicts
//	REVIEW AGENT 1: APPROVED
//	REVIEW AGENT 2: APPROVED_WITH_SUGGESTIONS
//	REVIEW AGENT 3: NEEDS_REVISION
//	```
//
// When no fenced block exists, verdict lines are matched anywhere in the
// content. Keys are the uppercased generic identifiers.
func ParseVerdicts(summaryContent string) map[string]models.ApprovalStatus {
	block := summaryContent
	if m := verdictsBlockPattern.FindStringSubmatch(summaryContent); m != nil {
		block = m[1]
	}

	verdicts := make(map[string]models.ApprovalStatus)
	for _, m := range verdictLinePattern.FindAllStringSubmatch(block, -1) {
		id := strings.ToUpper(spaceNormalize(m[1]))
		switch strings.ToUpper(m[2]) {
		case "APPROVED", "APPROVED_WITH_SUGGESTIONS":
			// Suggestions alone do not block.
			verdicts[id] = models.ApprovalApproved
		case "NEEDS_REVISION":
			verdicts[id] = models.ApprovalHasFeedback
		default:
			verdicts[id] = models.ApprovalUnclear
		}
	}

	logging.Debug("verdict parser: parsed %d verdicts", len(verdicts))
	return verdicts
}

// MapVerdictsToAgents resolves generic identifiers back to real agent
// names so execution rows can be annotated.
func MapVerdictsToAgents(verdicts map[string]models.ApprovalStatus, feedback []FeedbackItem) map[string]models.ApprovalStatus {
	result := make(map[string]models.ApprovalStatus)

	for _, fb := range feedback {
		if fb.AgentName == "" {
			continue
		}
		id := strings.ToUpper(fb.AgentIdentifier)

		if status, ok := verdicts[id]; ok {
			result[fb.AgentName] = status
			continue
		}

		for key, status := range verdicts {
			if strings.Contains(id, key) || strings.Contains(key, id) {
				result[fb.AgentName] = status
				break
			}
		}
	}

	return result
}

var multiSpace = regexp.MustCompile(`\s+`)

func spaceNormalize(s string) string {
	return multiSpace.ReplaceAllString(strings.TrimSpace(s), " ")
}
