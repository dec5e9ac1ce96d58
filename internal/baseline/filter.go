// Package baseline classifies build/lint/test output lines and suppresses
// issues recorded in a workflow's preflight baseline, so pre-existing
// problems don't block pulse completion.
package baseline

import (
	"fmt"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// IssueSource provides the recorded baseline issues for a workflow
type IssueSource interface {
	ListBaselineIssues(workflowID string, source domain.CommandSource) ([]*domain.BaselineIssue, error)
}

// FilterResult partitions parsed errors into new and baseline-covered
type FilterResult struct {
	NewErrors      []*domain.ParsedError
	BaselineErrors []*domain.ParsedError
	HasNewErrors   bool
}

// Filter checks parsed output against a workflow's known-issue baseline
type Filter struct {
	issues IssueSource
}

// NewFilter creates a Filter backed by the given issue source
func NewFilter(issues IssueSource) *Filter {
	return &Filter{issues: issues}
}

// FilterOutput parses raw output and partitions every recognized error by
// whether the baseline covers it. The only failure mode is the issue source
// being unavailable; unparseable lines are simply not errors.
func (f *Filter) FilterOutput(workflowID, raw string, source domain.CommandSource) (*FilterResult, error) {
	known, err := f.issues.ListBaselineIssues(workflowID, source)
	if err != nil {
		return nil, fmt.Errorf("loading baseline issues: %w", err)
	}

	result := &FilterResult{}
	for _, e := range ParseOutput(raw) {
		if matchesAny(e, known) {
			result.BaselineErrors = append(result.BaselineErrors, e)
		} else {
			result.NewErrors = append(result.NewErrors, e)
		}
	}
	result.HasNewErrors = len(result.NewErrors) > 0
	return result, nil
}

func matchesAny(e *domain.ParsedError, issues []*domain.BaselineIssue) bool {
	for _, issue := range issues {
		if issue.Matches(e) {
			return true
		}
	}
	return false
}

// FormatFiltered renders the raw output for the acting agent, appending a
// note when baseline issues were suppressed. This string, not the structured
// result, is what the agent sees.
func FormatFiltered(raw string, result *FilterResult) string {
	if len(result.BaselineErrors) == 0 {
		return raw
	}

	note := fmt.Sprintf("\n[baseline] %d pre-existing issue(s) filtered from this output.", len(result.BaselineErrors))
	if result.HasNewErrors {
		note += fmt.Sprintf(" %d new issue(s) remain and must be addressed.", len(result.NewErrors))
	} else {
		note += " No new issues detected."
	}
	return raw + note
}
