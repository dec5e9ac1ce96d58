package domain

import "time"

// Pulse represents one ordered, independently committed unit of agent work
// within a workflow.
type Pulse struct {
	ID                  string
	WorkflowID          string
	Description         string
	Status              PulseStatus
	PulseBranch         string // set when the pulse starts
	WorktreePath        string // set when the pulse starts
	RejectionCount      int
	HasUnresolvedIssues bool
	CommitSHA           string // set on success
	RecoveryCommitSHA   string // set on failure/stop with uncommitted work
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AllComplete returns true iff the list is non-empty and every pulse is terminal
func AllComplete(pulses []*Pulse) bool {
	if len(pulses) == 0 {
		return false
	}
	for _, p := range pulses {
		if !p.Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyUnresolved returns true if any pulse finished with acknowledged issues
func AnyUnresolved(pulses []*Pulse) bool {
	for _, p := range pulses {
		if p.HasUnresolvedIssues {
			return true
		}
	}
	return false
}
