package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// SavePreflightSetup persists the setup record and its ordered verification
// commands. A workflow has at most one setup; saving again replaces it.
func (s *Store) SavePreflightSetup(setup *domain.PreflightSetup) error {
	if setup.ID == "" {
		setup.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldID string
	err = tx.QueryRow(`SELECT id FROM preflight_setups WHERE workflow_id = ?`, setup.WorkflowID).Scan(&oldID)
	if err == nil {
		if _, err := tx.Exec(`DELETE FROM verification_commands WHERE setup_id = ?`, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM preflight_setups WHERE id = ?`, oldID); err != nil {
			return err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.Exec(`INSERT INTO preflight_setups (id, workflow_id, session_id, created_at) VALUES (?, ?, ?, ?)`,
		setup.ID, setup.WorkflowID, setup.SessionID, time.Now())
	if err != nil {
		return err
	}

	for i, cmd := range setup.Commands {
		_, err := tx.Exec(`INSERT INTO verification_commands (setup_id, command, source, seq) VALUES (?, ?, ?, ?)`,
			setup.ID, cmd.Command, string(cmd.Source), i)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetPreflightSetup returns the setup for a workflow with its commands in
// recorded order, or ErrNotFound.
func (s *Store) GetPreflightSetup(workflowID string) (*domain.PreflightSetup, error) {
	var setup domain.PreflightSetup
	var sessionID sql.NullString
	err := s.db.QueryRow(`SELECT id, workflow_id, session_id, created_at FROM preflight_setups WHERE workflow_id = ?`,
		workflowID).Scan(&setup.ID, &setup.WorkflowID, &sessionID, &setup.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preflight setup for workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	setup.SessionID = sessionID.String

	rows, err := s.db.Query(`SELECT command, source FROM verification_commands WHERE setup_id = ? ORDER BY seq`, setup.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cmd domain.VerificationCommand
		var source string
		if err := rows.Scan(&cmd.Command, &source); err != nil {
			return nil, err
		}
		cmd.Source = domain.CommandSource(source)
		setup.Commands = append(setup.Commands, cmd)
	}
	return &setup, rows.Err()
}

// SaveBaselineOutput records the baseline run of a verification command
func (s *Store) SaveBaselineOutput(workflowID, command string, out domain.CommandOutput) error {
	_, err := s.db.Exec(`
		INSERT INTO baseline_outputs (workflow_id, command, stdout, stderr, exit_code)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, command) DO UPDATE SET
			stdout = excluded.stdout,
			stderr = excluded.stderr,
			exit_code = excluded.exit_code
	`, workflowID, command, out.Stdout, out.Stderr, out.ExitCode)
	return err
}

// GetBaselineOutput returns the recorded baseline for a workflow+command, or
// ErrNotFound when no baseline was recorded.
func (s *Store) GetBaselineOutput(workflowID, command string) (domain.CommandOutput, error) {
	var out domain.CommandOutput
	err := s.db.QueryRow(`SELECT stdout, stderr, exit_code FROM baseline_outputs WHERE workflow_id = ? AND command = ?`,
		workflowID, command).Scan(&out.Stdout, &out.Stderr, &out.ExitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("baseline for %q: %w", command, ErrNotFound)
	}
	return out, err
}

// AddBaselineIssues records known pre-existing issues for a workflow
func (s *Store) AddBaselineIssues(issues []*domain.BaselineIssue) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, issue := range issues {
		if issue.ID == "" {
			issue.ID = uuid.NewString()
		}
		_, err := tx.Exec(`
			INSERT INTO baseline_issues (id, workflow_id, source, pattern, issue_type, file_path)
			VALUES (?, ?, ?, ?, ?, ?)
		`, issue.ID, issue.WorkflowID, string(issue.Source), issue.Pattern, string(issue.IssueType), nullable(issue.FilePath))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListBaselineIssues returns the known issues for a workflow and source
func (s *Store) ListBaselineIssues(workflowID string, source domain.CommandSource) ([]*domain.BaselineIssue, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, source, pattern, issue_type, file_path
		FROM baseline_issues WHERE workflow_id = ? AND source = ?
	`, workflowID, string(source))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*domain.BaselineIssue
	for rows.Next() {
		var issue domain.BaselineIssue
		var source, issueType string
		var filePath sql.NullString
		if err := rows.Scan(&issue.ID, &issue.WorkflowID, &source, &issue.Pattern, &issueType, &filePath); err != nil {
			return nil, err
		}
		issue.Source = domain.CommandSource(source)
		issue.IssueType = domain.Severity(issueType)
		issue.FilePath = filePath.String
		issues = append(issues, &issue)
	}
	return issues, rows.Err()
}
