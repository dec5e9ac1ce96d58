package domain

import (
	"strings"
	"time"
)

// PreflightSetup records the environment-setup session for a workflow and the
// verification commands re-run after every pulse. At most one exists per
// workflow.
type PreflightSetup struct {
	ID         string
	WorkflowID string
	SessionID  string
	Commands   []VerificationCommand // re-run in this order for every pulse
	CreatedAt  time.Time
}

// VerificationCommand is one build/lint/test command recorded during preflight
type VerificationCommand struct {
	Command string
	Source  CommandSource
}

// BaselineIssue is a pre-existing issue recorded during preflight. An error
// matching a baseline issue does not block pulse completion.
type BaselineIssue struct {
	ID         string
	WorkflowID string
	Source     CommandSource
	Pattern    string // substring matched against "code: message"
	IssueType  Severity
	FilePath   string // optional substring matched against the error's file path
}

// Matches reports whether the parsed error is covered by this baseline issue
func (b *BaselineIssue) Matches(e *ParsedError) bool {
	if e.Severity != b.IssueType {
		return false
	}
	if !strings.Contains(e.Identity(), b.Pattern) {
		return false
	}
	if b.FilePath != "" && !strings.Contains(e.FilePath, b.FilePath) {
		return false
	}
	return true
}
