// Package validate gates pulse completion: it scans recent tool history for
// unresolved failures, enforces the progressive-rejection policy, and manages
// the escape hatch for acknowledged unfixable issues.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// EscapeHatchThreshold is the rejection count after which an agent may
// acknowledge unresolved issues instead of fixing them.
const EscapeHatchThreshold = 2

// historyWindow is how many recent assistant turns are scanned for failures
const historyWindow = 5

// PulseSource reads pulse state and records rejections
type PulseSource interface {
	GetPulse(id string) (*domain.Pulse, error)
	IncrementRejectionCount(id string) (int, error)
}

// HistorySource reads conversation history for a session
type HistorySource interface {
	RecentAssistantTurns(sessionID string, n int) ([]*domain.Turn, error)
	ToolCallsForTurn(turnID string) ([]*domain.ToolCall, error)
}

// Validator judges completion claims. It never mutates pulse state itself;
// rejection counting happens through RejectCompletion.
type Validator struct {
	pulses  PulseSource
	history HistorySource
}

// New creates a Validator
func New(pulses PulseSource, history HistorySource) *Validator {
	return &Validator{pulses: pulses, history: history}
}

// ValidateCompletion judges whether a pulse may be marked complete
func (v *Validator) ValidateCompletion(ctx context.Context, pulseID, sessionID string, hasUnresolvedIssues bool) (*domain.ValidationResult, error) {
	pulse, err := v.pulses.GetPulse(pulseID)
	if err != nil {
		return nil, fmt.Errorf("loading pulse: %w", err)
	}

	hatchAvailable := pulse.RejectionCount >= EscapeHatchThreshold

	if hasUnresolvedIssues {
		if !hatchAvailable {
			return &domain.ValidationResult{
				Valid:                false,
				EscapeHatchAvailable: false,
				RejectionReason: fmt.Sprintf(
					"Unresolved issues cannot be acknowledged yet (%d of %d rejections). Keep working on the problems before declaring them unfixable.",
					pulse.RejectionCount, EscapeHatchThreshold),
			}, nil
		}
		// Explicit acknowledgment overrides automatic failure detection
		return &domain.ValidationResult{Valid: true, EscapeHatchAvailable: true}, nil
	}

	failures, err := v.scanRecentFailures(sessionID)
	if err != nil {
		return nil, fmt.Errorf("scanning tool history: %w", err)
	}

	if len(failures) == 0 {
		return &domain.ValidationResult{Valid: true, EscapeHatchAvailable: hatchAvailable}, nil
	}

	return &domain.ValidationResult{
		Valid:                false,
		EscapeHatchAvailable: hatchAvailable,
		Failures:             failures,
		RejectionReason:      rejectionMessage(failures, hatchAvailable),
	}, nil
}

// RejectCompletion records a rejection and returns the new count. The caller
// invokes this after a failed validation; the validator keeps judgment and
// mutation separate.
func (v *Validator) RejectCompletion(ctx context.Context, pulseID string) (int, error) {
	return v.pulses.IncrementRejectionCount(pulseID)
}

// failureCapableTools are the tool kinds whose failures block completion
var failureCapableTools = map[string]bool{
	"bash":       true,
	"edit":       true,
	"multi_edit": true,
	"write":      true,
}

// scanRecentFailures collects failure-capable tool calls from the last five
// assistant turns and keeps only the most recent invocation per logical
// target, so a fixed-and-rerun command is not blocked by its earlier failure.
func (v *Validator) scanRecentFailures(sessionID string) ([]domain.ToolFailure, error) {
	turns, err := v.history.RecentAssistantTurns(sessionID, historyWindow)
	if err != nil {
		return nil, err
	}

	latest := newLatestByKey()
	for _, turn := range turns {
		calls, err := v.history.ToolCallsForTurn(turn.ID)
		if err != nil {
			return nil, err
		}
		for _, call := range calls {
			if !failureCapableTools[call.ToolName] {
				continue
			}
			latest.put(targetKey(call), call)
		}
	}

	var failures []domain.ToolFailure
	for _, call := range latest.values() {
		if call.Success {
			continue
		}
		failures = append(failures, domain.ToolFailure{
			Tool:   call.ToolName,
			Target: targetKey(call),
			Reason: failureReason(call),
		})
	}
	return failures, nil
}

// targetKey maps a tool call to its logical target: all shell runs share one
// key (only the last one matters), file-mutating tools key on tool plus path.
func targetKey(call *domain.ToolCall) string {
	if call.ToolName == "bash" {
		return "shell"
	}
	return call.ToolName + ":" + filePathFromInput(call.Input)
}

func failureReason(call *domain.ToolCall) string {
	if msg := errorFromOutput(call.Output); msg != "" {
		return msg
	}
	return "tool reported failure"
}

func rejectionMessage(failures []domain.ToolFailure, hatchAvailable bool) string {
	var b strings.Builder
	b.WriteString("Completion rejected; the following tool invocations are still failing:\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "  - %s (%s): %s\n", f.Tool, f.Target, f.Reason)
	}
	b.WriteString("Fix these and try again.")
	if hatchAvailable {
		b.WriteString(" If an issue genuinely cannot be fixed, you may now complete the pulse with hasUnresolvedIssues=true to acknowledge it.")
	}
	return b.String()
}
