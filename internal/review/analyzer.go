// Package review classifies reviewer output. The classification is a
// keyword heuristic: downstream consumers must treat it as advisory, never
// authoritative.
package review

import (
	"regexp"
	"strings"

	"github.com/deadmanoz/orchestra/pkg/models"
)

var approvalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bapproved?\b`),
	regexp.MustCompile(`\blooks?\s+good\b`),
	regexp.MustCompile(`\bready\s+to\s+(proceed|implement|continue)\b`),
	regexp.MustCompile(`\bno\s+(concerns?|issues?|problems?)\b`),
	regexp.MustCompile(`\bexcellent\s+plan\b`),
	regexp.MustCompile(`\bwell[-\s]structured\b`),
	regexp.MustCompile(`\bcomprehensive\s+plan\b`),
	regexp.MustCompile(`\bno\s+major\s+(concerns?|issues?)\b`),
	regexp.MustCompile(`\ball\s+good\b`),
	regexp.MustCompile(`\bproceed\s+with\s+implementation\b`),
}

var concernPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(critical|major|serious)\s+(issue|concern|problem)\b`),
	regexp.MustCompile(`\bmust\s+(address|fix|change|add|update)\b`),
	regexp.MustCompile(`\brequired?\s+(change|update|fix)\b`),
	regexp.MustCompile(`\bmissing\s+(critical|important|essential)\b`),
	regexp.MustCompile(`\bshould\s+(add|include|consider|address)\b.*\bbefore\s+implementation\b`),
	regexp.MustCompile(`\bsignificant\s+(concern|issue|problem)\b`),
	regexp.MustCompile(`\bnot\s+ready\b`),
	regexp.MustCompile(`\bneeds?\s+(revision|more\s+work|improvement)\b`),
	regexp.MustCompile(`\breject\b`),
}

var shouldPattern = regexp.MustCompile(`\bshould\b`)

// Analyze classifies a reviewer's free-text output.
func Analyze(content string) models.ApprovalStatus {
	lower := strings.ToLower(content)

	approvalScore := 0
	for _, p := range approvalPatterns {
		if p.MatchString(lower) {
			approvalScore++
		}
	}

	concernScore := 0
	for _, p := range concernPatterns {
		if p.MatchString(lower) {
			concernScore++
		}
	}

	if approvalScore > 0 && concernScore == 0 {
		return models.ApprovalApproved
	}

	if concernScore > 0 {
		// Concerns win even when positive statements are present.
		return models.ApprovalHasFeedback
	}

	// "should" statements are suggestions that may or may not block; many
	// of them read as feedback.
	shouldCount := len(shouldPattern.FindAllString(lower, -1))
	if shouldCount >= 3 {
		return models.ApprovalHasFeedback
	}

	if approvalScore > 0 {
		return models.ApprovalApproved
	}

	// A substantial review with no signals almost certainly carries
	// feedback; a short one is genuinely unclear.
	if len(lower) > 200 {
		return models.ApprovalHasFeedback
	}
	return models.ApprovalUnclear
}

// FeedbackItem is one reviewer's contribution to a review round.
type FeedbackItem struct {
	AgentName       string
	AgentIdentifier string
	Feedback        string
}

// Summary aggregates verdicts across one review round.
type Summary struct {
	ApprovedCount int
	FeedbackCount int
	UnclearCount  int
	AllApproved   bool
	ByStatus      map[models.ApprovalStatus][]string
}

// Summarize classifies every review and aggregates the counts.
func Summarize(reviews []FeedbackItem) Summary {
	summary := Summary{
		ByStatus: map[models.ApprovalStatus][]string{},
	}

	for _, r := range reviews {
		id := r.AgentIdentifier
		if id == "" {
			id = r.AgentName
		}

		status := Analyze(r.Feedback)
		summary.ByStatus[status] = append(summary.ByStatus[status], id)

		switch status {
		case models.ApprovalApproved:
			summary.ApprovedCount++
		case models.ApprovalHasFeedback:
			summary.FeedbackCount++
		default:
			summary.UnclearCount++
		}
	}

	summary.AllApproved = len(reviews) > 0 && summary.ApprovedCount == len(reviews)
	return summary
}
