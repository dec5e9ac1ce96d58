package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
	"github.com/hochfrequenz/pulse-orchestrator/internal/store"
)

// runVerification re-runs the workflow's preflight commands in the pulse
// worktree and collects per-command failures. A workflow without a preflight
// setup has nothing to verify.
func (o *Orchestrator) runVerification(ctx context.Context, pulse *domain.Pulse) ([]CommandFailure, error) {
	setup, err := o.store.GetPreflightSetup(pulse.WorkflowID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var failures []CommandFailure
	for _, cmd := range setup.Commands {
		failure, err := o.verifyCommand(ctx, pulse, cmd)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			failures = append(failures, *failure)
		}
	}
	return failures, nil
}

func (o *Orchestrator) verifyCommand(ctx context.Context, pulse *domain.Pulse, cmd domain.VerificationCommand) (*CommandFailure, error) {
	res, err := o.runner.Run(ctx, pulse.WorktreePath, cmd.Command)
	if err != nil {
		// Cannot spawn at all: infrastructure trouble, not an agent problem
		return nil, fmt.Errorf("running %q: %w", cmd.Command, err)
	}

	if res.TimedOut {
		return &CommandFailure{
			Command: cmd.Command,
			Source:  cmd.Source,
			Issues: []string{fmt.Sprintf(
				"command timed out after %s; partial output was saved to a diagnostic log in the worktree",
				res.Duration.Truncate(time.Millisecond))},
		}, nil
	}

	recorded, err := o.store.GetBaselineOutput(pulse.WorkflowID, cmd.Command)
	if errors.Is(err, store.ErrNotFound) {
		// No recorded run to compare against: fall back to baseline-issue
		// filtering of the raw output.
		return o.filterCommand(pulse, cmd, res.Output)
	}
	if err != nil {
		return nil, err
	}

	result, err := o.compare.CompareOutputs(ctx, pulse.WorkflowID, cmd.Command, recorded, res.Output)
	if err != nil {
		return nil, fmt.Errorf("comparing %q: %w", cmd.Command, err)
	}
	if result.AreEquivalent {
		if o.debug && result.IsStrictlyImprovement {
			log.Printf("[orchestrator] %q improved over baseline for pulse %s", cmd.Command, pulse.ID)
		}
		return nil, nil
	}

	issues := result.NewIssues
	if len(issues) == 0 {
		issues = []string{"output is not equivalent to the recorded baseline"}
	}
	return &CommandFailure{Command: cmd.Command, Source: cmd.Source, Issues: issues}, nil
}

func (o *Orchestrator) filterCommand(pulse *domain.Pulse, cmd domain.VerificationCommand, out domain.CommandOutput) (*CommandFailure, error) {
	result, err := o.filter.FilterOutput(pulse.WorkflowID, out.Combined(), cmd.Source)
	if err != nil {
		return nil, fmt.Errorf("filtering %q output: %w", cmd.Command, err)
	}
	if !result.HasNewErrors {
		return nil, nil
	}

	issues := make([]string, 0, len(result.NewErrors))
	for _, e := range result.NewErrors {
		issues = append(issues, e.Identity())
	}
	return &CommandFailure{Command: cmd.Command, Source: cmd.Source, Issues: issues}, nil
}

func verificationGuidance(failures []CommandFailure, hatchAvailable bool) string {
	var b strings.Builder
	b.WriteString("Verification failed; the pulse was not completed:\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "  %s (%s):\n", f.Command, f.Source)
		for _, issue := range f.Issues {
			fmt.Fprintf(&b, "    - %s\n", issue)
		}
	}
	b.WriteString("Fix the issues and request completion again.")
	if hatchAvailable {
		b.WriteString(" If an issue genuinely cannot be fixed, you may complete the pulse with hasUnresolvedIssues=true to acknowledge it.")
	}
	return b.String()
}
