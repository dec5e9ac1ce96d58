// Package orchestrator drives the pulse lifecycle: it owns the per-workflow
// branch and worktree, runs pulses sequentially, verifies their output
// against recorded baselines, and commits or checkpoints the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hochfrequenz/pulse-orchestrator/internal/baseline"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
	"github.com/hochfrequenz/pulse-orchestrator/internal/gitops"
	"github.com/hochfrequenz/pulse-orchestrator/internal/runner"
	"github.com/hochfrequenz/pulse-orchestrator/internal/store"
	"github.com/hochfrequenz/pulse-orchestrator/internal/validate"
)

// ErrNotRunning is returned when a lifecycle operation targets a pulse that
// is not in the running state.
var ErrNotRunning = errors.New("pulse is not running")

// ErrNoWorkspace is returned when a running pulse is missing its branch or
// worktree record.
var ErrNoWorkspace = errors.New("pulse has no branch/worktree recorded")

// Store is the persistence surface the orchestrator needs
type Store interface {
	ListPulses(workflowID string) ([]*domain.Pulse, error)
	NextProposedPulse(workflowID string) (*domain.Pulse, error)
	GetPulse(id string) (*domain.Pulse, error)
	StartPulse(id, branch, worktreePath string) error
	CompletePulse(id, commitSHA, description string) error
	FailPulse(id, recoverySHA string) error
	StopPulse(id, recoverySHA string) error
	IncrementRejectionCount(id string) (int, error)
	SetUnresolvedIssues(id string) error
	GetPreflightSetup(workflowID string) (*domain.PreflightSetup, error)
	GetBaselineOutput(workflowID, command string) (domain.CommandOutput, error)
	SaveWorkflowPulsing(w *store.WorkflowPulsing) error
	GetWorkflowPulsing(workflowID string) (*store.WorkflowPulsing, error)
}

// VerificationRunner executes one verification command in a worktree
type VerificationRunner interface {
	Run(ctx context.Context, dir, command string) (*runner.Result, error)
}

// Comparator decides output equivalence against a baseline
type Comparator interface {
	CompareOutputs(ctx context.Context, workflowID, command string, baseline, current domain.CommandOutput) (domain.ComparisonResult, error)
}

// OutputFilter suppresses baseline-known issues in raw output
type OutputFilter interface {
	FilterOutput(workflowID, raw string, source domain.CommandSource) (*baseline.FilterResult, error)
}

// StatusCallback is invoked after every pulse status transition
type StatusCallback func(pulse *domain.Pulse)

// Orchestrator is the pulse state machine. All dependencies are injected;
// it holds no global state.
type Orchestrator struct {
	store    Store
	git      gitops.Client
	runner   VerificationRunner
	compare  Comparator
	filter   OutputFilter
	onStatus StatusCallback
	debug    bool
}

// Config assembles an Orchestrator
type Config struct {
	Store    Store
	Git      gitops.Client
	Runner   VerificationRunner
	Compare  Comparator
	Filter   OutputFilter
	OnStatus StatusCallback
	Debug    bool
}

// New creates an Orchestrator
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    cfg.Store,
		git:      cfg.Git,
		runner:   cfg.Runner,
		compare:  cfg.Compare,
		filter:   cfg.Filter,
		onStatus: cfg.OnStatus,
		debug:    cfg.Debug,
	}
}

// SetupError is a fatal workflow-setup failure. It halts the workflow and is
// never retried automatically.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("pulsing setup failed at %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// InitializePulsing prepares a workflow for pulse execution: it resolves the
// base branch, creates the workflow branch and an isolated worktree, and
// persists the environment.
func (o *Orchestrator) InitializePulsing(ctx context.Context, workflowID, repoRoot, baseBranch string) (*store.WorkflowPulsing, error) {
	if baseBranch == "" {
		branch, err := o.git.CurrentBranch(repoRoot)
		if err != nil {
			return nil, &SetupError{Stage: "resolving base branch", Err: err}
		}
		baseBranch = branch
	}

	wfBranch, err := o.git.CreateWorkflowBranch(repoRoot, workflowID, baseBranch)
	if err != nil {
		return nil, &SetupError{Stage: "creating workflow branch", Err: err}
	}

	wtPath, err := o.git.CreateWorktree(repoRoot, workflowID, wfBranch)
	if err != nil {
		return nil, &SetupError{Stage: "creating worktree", Err: err}
	}

	w := &store.WorkflowPulsing{
		WorkflowID:     workflowID,
		RepoRoot:       repoRoot,
		BaseBranch:     baseBranch,
		WorkflowBranch: wfBranch,
		WorktreePath:   wtPath,
	}
	if err := o.store.SaveWorkflowPulsing(w); err != nil {
		return nil, &SetupError{Stage: "persisting workflow record", Err: err}
	}

	if o.debug {
		log.Printf("[orchestrator] workflow %s initialized: branch=%s worktree=%s", workflowID, wfBranch, wtPath)
	}
	return w, nil
}

// StartNextPulse dequeues the next proposed pulse, creates its branch off the
// workflow branch, checks it out in the shared worktree and marks it running.
// Returns nil when no proposed pulse remains.
func (o *Orchestrator) StartNextPulse(ctx context.Context, workflowID string) (*domain.Pulse, error) {
	w, err := o.store.GetWorkflowPulsing(workflowID)
	if err != nil {
		return nil, err
	}

	pulse, err := o.store.NextProposedPulse(workflowID)
	if err != nil {
		return nil, err
	}
	if pulse == nil {
		return nil, nil
	}

	branch, err := o.git.CreatePulseBranch(w.RepoRoot, w.WorkflowBranch, pulse.ID)
	if err != nil {
		return nil, fmt.Errorf("creating pulse branch: %w", err)
	}
	if err := o.git.CheckoutInWorktree(w.WorktreePath, branch); err != nil {
		return nil, fmt.Errorf("checking out pulse branch: %w", err)
	}

	if err := o.store.StartPulse(pulse.ID, branch, w.WorktreePath); err != nil {
		return nil, err
	}

	started, err := o.store.GetPulse(pulse.ID)
	if err != nil {
		return nil, err
	}
	o.notify(started)
	return started, nil
}

// CompleteResult reports the outcome of a completion attempt. A verification
// failure is a normal unsuccessful result, not an error.
type CompleteResult struct {
	Completed      bool
	CommitSHA      string
	HasMorePulses  bool
	Failures       []CommandFailure
	Guidance       string
	RejectionCount int
}

// CommandFailure names a verification command and the issues it surfaced
type CommandFailure struct {
	Command string
	Source  domain.CommandSource
	Issues  []string
}

// CompletePulse verifies and finalizes a running pulse: it re-runs the
// preflight verification commands, and on success commits the worktree with
// the supplied message and merges the pulse branch into the workflow branch.
// A verification failure rejects the completion and counts toward the escape
// hatch threshold.
func (o *Orchestrator) CompletePulse(ctx context.Context, pulseID, message string) (*CompleteResult, error) {
	return o.completePulse(ctx, pulseID, message, false)
}

// CompletePulseWithUnresolved finalizes a running pulse through the escape
// hatch: the agent has explicitly acknowledged the remaining issues, so the
// acknowledgment overrides verification and the pulse is flagged for human
// review once it succeeds. Callers must have checked hatch eligibility first.
func (o *Orchestrator) CompletePulseWithUnresolved(ctx context.Context, pulseID, message string) (*CompleteResult, error) {
	return o.completePulse(ctx, pulseID, message, true)
}

func (o *Orchestrator) completePulse(ctx context.Context, pulseID, message string, acknowledged bool) (*CompleteResult, error) {
	pulse, err := o.store.GetPulse(pulseID)
	if err != nil {
		return nil, err
	}
	if pulse.Status != domain.PulseRunning {
		return nil, fmt.Errorf("completing pulse %s in status %s: %w", pulseID, pulse.Status, ErrNotRunning)
	}
	if pulse.WorktreePath == "" || pulse.PulseBranch == "" {
		return nil, fmt.Errorf("completing pulse %s: %w", pulseID, ErrNoWorkspace)
	}

	w, err := o.store.GetWorkflowPulsing(pulse.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !acknowledged {
		failures, err := o.runVerification(ctx, pulse)
		if err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			count, err := o.store.IncrementRejectionCount(pulseID)
			if err != nil {
				return nil, err
			}
			return &CompleteResult{
				Failures:       failures,
				RejectionCount: count,
				Guidance:       verificationGuidance(failures, count >= validate.EscapeHatchThreshold),
			}, nil
		}
	}

	sha, err := o.git.CommitChanges(pulse.WorktreePath, message)
	if err != nil {
		return nil, fmt.Errorf("committing pulse work: %w", err)
	}
	if err := o.git.MergePulseBranch(w.RepoRoot, pulse.WorktreePath, w.WorkflowBranch, pulse.PulseBranch); err != nil {
		return nil, fmt.Errorf("merging pulse branch: %w", err)
	}

	if err := o.store.CompletePulse(pulseID, sha, message); err != nil {
		return nil, err
	}
	// The flag is only valid on a succeeded pulse, so it is set after the
	// transition, never before.
	if acknowledged {
		if err := o.store.SetUnresolvedIssues(pulseID); err != nil {
			return nil, err
		}
	}

	next, err := o.store.NextProposedPulse(pulse.WorkflowID)
	if err != nil {
		return nil, err
	}

	done, _ := o.store.GetPulse(pulseID)
	o.notify(done)

	return &CompleteResult{
		Completed:     true,
		CommitSHA:     sha,
		HasMorePulses: next != nil,
	}, nil
}

// FailPulse marks a running pulse failed after a best-effort recovery
// checkpoint of uncommitted work.
func (o *Orchestrator) FailPulse(ctx context.Context, pulseID string) error {
	return o.finishPulse(ctx, pulseID, domain.PulseFailed)
}

// StopPulse is the user-initiated variant of FailPulse: same checkpoint
// behavior, distinct terminal status for downstream reporting.
func (o *Orchestrator) StopPulse(ctx context.Context, pulseID string) error {
	return o.finishPulse(ctx, pulseID, domain.PulseStopped)
}

func (o *Orchestrator) finishPulse(ctx context.Context, pulseID string, status domain.PulseStatus) error {
	pulse, err := o.store.GetPulse(pulseID)
	if err != nil {
		return err
	}
	if pulse.Status != domain.PulseRunning {
		return fmt.Errorf("finishing pulse %s in status %s: %w", pulseID, pulse.Status, ErrNotRunning)
	}

	// Losing the checkpoint must never block finishing the pulse
	recoverySHA := ""
	if pulse.WorktreePath != "" {
		sha, err := o.git.CreateRecoveryCheckpoint(pulse.WorktreePath)
		if err != nil {
			log.Printf("[orchestrator] recovery checkpoint failed for pulse %s: %v", pulseID, err)
		} else {
			recoverySHA = sha
		}
	}

	if status == domain.PulseStopped {
		err = o.store.StopPulse(pulseID, recoverySHA)
	} else {
		err = o.store.FailPulse(pulseID, recoverySHA)
	}
	if err != nil {
		return err
	}

	finished, _ := o.store.GetPulse(pulseID)
	o.notify(finished)
	return nil
}

// AllPulsesComplete reports whether the workflow has pulses and all of them
// are terminal.
func (o *Orchestrator) AllPulsesComplete(workflowID string) (bool, error) {
	pulses, err := o.store.ListPulses(workflowID)
	if err != nil {
		return false, err
	}
	return domain.AllComplete(pulses), nil
}

// HasUnresolvedIssues reports whether any pulse finished via the escape hatch,
// which halts the workflow for human review instead of auto-advancing.
func (o *Orchestrator) HasUnresolvedIssues(workflowID string) (bool, error) {
	pulses, err := o.store.ListPulses(workflowID)
	if err != nil {
		return false, err
	}
	return domain.AnyUnresolved(pulses), nil
}

func (o *Orchestrator) notify(pulse *domain.Pulse) {
	if o.onStatus != nil && pulse != nil {
		o.onStatus(pulse)
	}
}
