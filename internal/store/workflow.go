package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// WorkflowPulsing records the branch and worktree created for a workflow's
// pulse execution, so the orchestrator survives restarts.
type WorkflowPulsing struct {
	WorkflowID     string
	RepoRoot       string
	BaseBranch     string
	WorkflowBranch string
	WorktreePath   string
}

// SaveWorkflowPulsing persists the pulsing environment for a workflow
func (s *Store) SaveWorkflowPulsing(w *WorkflowPulsing) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_pulsing (workflow_id, repo_root, base_branch, workflow_branch, worktree_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			repo_root = excluded.repo_root,
			base_branch = excluded.base_branch,
			workflow_branch = excluded.workflow_branch,
			worktree_path = excluded.worktree_path
	`, w.WorkflowID, w.RepoRoot, w.BaseBranch, w.WorkflowBranch, w.WorktreePath)
	return err
}

// GetWorkflowPulsing returns the pulsing environment for a workflow, or
// ErrNotFound when InitializePulsing has not run.
func (s *Store) GetWorkflowPulsing(workflowID string) (*WorkflowPulsing, error) {
	var w WorkflowPulsing
	err := s.db.QueryRow(`
		SELECT workflow_id, repo_root, base_branch, workflow_branch, worktree_path
		FROM workflow_pulsing WHERE workflow_id = ?
	`, workflowID).Scan(&w.WorkflowID, &w.RepoRoot, &w.BaseBranch, &w.WorkflowBranch, &w.WorktreePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s not initialized for pulsing: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
