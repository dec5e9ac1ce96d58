// Package gitops provides the git branch, worktree and commit primitives used
// by the pulse orchestrator.
package gitops

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client abstracts the version-control operations the orchestrator needs
type Client interface {
	CurrentBranch(repoRoot string) (string, error)
	CreateWorkflowBranch(repoRoot, workflowID, base string) (string, error)
	CreateWorktree(repoRoot, workflowID, branch string) (string, error)
	CreatePulseBranch(repoRoot, workflowBranch, pulseID string) (string, error)
	CheckoutInWorktree(worktreePath, branch string) error
	CommitChanges(worktreePath, message string) (string, error)
	MergePulseBranch(repoRoot, worktreePath, workflowBranch, pulseBranch string) error
	// CreateRecoveryCheckpoint commits any uncommitted work in the worktree
	// and returns its SHA, or "" when there is nothing to commit.
	CreateRecoveryCheckpoint(worktreePath string) (string, error)
	RemoveWorktree(repoRoot, worktreePath string) error
	PruneWorktrees(repoRoot string) error
}

// CLI implements Client by shelling out to git
type CLI struct {
	WorktreeDir string // parent directory for created worktrees
}

// NewCLI creates a git client that places worktrees under worktreeDir
func NewCLI(worktreeDir string) *CLI {
	return &CLI{WorktreeDir: worktreeDir}
}

func (c *CLI) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the branch currently checked out at repoRoot
func (c *CLI) CurrentBranch(repoRoot string) (string, error) {
	return c.git(repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateWorkflowBranch creates the per-workflow branch off the base branch
func (c *CLI) CreateWorkflowBranch(repoRoot, workflowID, base string) (string, error) {
	branch := WorkflowBranchName(workflowID)
	if _, err := c.git(repoRoot, "branch", branch, base); err != nil {
		return "", fmt.Errorf("creating workflow branch: %w", err)
	}
	return branch, nil
}

// CreateWorktree creates an isolated worktree checked out to branch
func (c *CLI) CreateWorktree(repoRoot, workflowID, branch string) (string, error) {
	if err := os.MkdirAll(c.WorktreeDir, 0755); err != nil {
		return "", fmt.Errorf("creating worktree dir: %w", err)
	}

	wtPath := filepath.Join(c.WorktreeDir, "workflow-"+workflowID)
	if _, err := c.git(repoRoot, "worktree", "add", wtPath, branch); err != nil {
		return "", fmt.Errorf("creating worktree: %w", err)
	}
	return wtPath, nil
}

// CreatePulseBranch creates a pulse branch off the workflow branch
func (c *CLI) CreatePulseBranch(repoRoot, workflowBranch, pulseID string) (string, error) {
	branch := PulseBranchName(pulseID)
	if _, err := c.git(repoRoot, "branch", branch, workflowBranch); err != nil {
		return "", fmt.Errorf("creating pulse branch: %w", err)
	}
	return branch, nil
}

// CheckoutInWorktree checks out a branch in the shared worktree
func (c *CLI) CheckoutInWorktree(worktreePath, branch string) error {
	_, err := c.git(worktreePath, "checkout", branch)
	return err
}

// CommitChanges stages and commits everything in the worktree, returning the
// commit SHA. An empty commit is allowed so a pulse that only verified
// existing behavior still gets a commit on its branch.
func (c *CLI) CommitChanges(worktreePath, message string) (string, error) {
	if _, err := c.git(worktreePath, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := c.git(worktreePath, "commit", "--allow-empty", "-m", message, "--no-verify"); err != nil {
		return "", err
	}
	return c.git(worktreePath, "rev-parse", "HEAD")
}

// MergePulseBranch merges the pulse branch into the workflow branch inside
// the worktree, leaving the worktree on the workflow branch.
func (c *CLI) MergePulseBranch(repoRoot, worktreePath, workflowBranch, pulseBranch string) error {
	if _, err := c.git(worktreePath, "checkout", workflowBranch); err != nil {
		return err
	}
	if _, err := c.git(worktreePath, "merge", "--no-ff", pulseBranch, "-m", "Merge "+pulseBranch); err != nil {
		return err
	}
	return nil
}

// CreateRecoveryCheckpoint commits uncommitted work so a failed or stopped
// pulse is not silently lost. Returns "" when the worktree is clean.
func (c *CLI) CreateRecoveryCheckpoint(worktreePath string) (string, error) {
	status, err := c.git(worktreePath, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", nil
	}

	if _, err := c.git(worktreePath, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := c.git(worktreePath, "commit", "-m", "[recovery] checkpoint of uncommitted pulse work", "--no-verify"); err != nil {
		return "", err
	}
	return c.git(worktreePath, "rev-parse", "HEAD")
}

// RemoveWorktree removes a worktree
func (c *CLI) RemoveWorktree(repoRoot, worktreePath string) error {
	_, err := c.git(repoRoot, "worktree", "remove", "--force", worktreePath)
	return err
}

// PruneWorktrees removes stale worktree bookkeeping entries
func (c *CLI) PruneWorktrees(repoRoot string) error {
	_, err := c.git(repoRoot, "worktree", "prune")
	return err
}

// WorkflowBranchName returns the branch name for a workflow
func WorkflowBranchName(workflowID string) string {
	return "pulse/workflow-" + workflowID
}

// PulseBranchName returns the branch name for a pulse
func PulseBranchName(pulseID string) string {
	return "pulse/" + pulseID
}
