// Package store provides SQLite-backed persistence for pulses, preflight
// records and agent conversation history.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrIllegalTransition is returned when a status update violates the pulse
// state machine (e.g. completing a pulse that is not running).
var ErrIllegalTransition = errors.New("illegal pulse status transition")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePulses inserts pulses for a workflow in the given order, all with
// status proposed. IDs are assigned if empty.
func (s *Store) CreatePulses(workflowID string, descriptions []string) ([]*domain.Pulse, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM pulses WHERE workflow_id = ?`, workflowID).Scan(&maxSeq); err != nil {
		return nil, err
	}
	seq := int(maxSeq.Int64)

	now := time.Now()
	var pulses []*domain.Pulse
	for _, desc := range descriptions {
		seq++
		p := &domain.Pulse{
			ID:          uuid.NewString(),
			WorkflowID:  workflowID,
			Description: desc,
			Status:      domain.PulseProposed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err := tx.Exec(`
			INSERT INTO pulses (id, workflow_id, description, status, seq, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.WorkflowID, p.Description, string(p.Status), seq, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pulses, nil
}

const pulseColumns = `id, workflow_id, description, status, pulse_branch, worktree_path,
	rejection_count, has_unresolved_issues, commit_sha, recovery_commit_sha, created_at, updated_at`

// GetPulse retrieves a pulse by ID
func (s *Store) GetPulse(id string) (*domain.Pulse, error) {
	row := s.db.QueryRow(`SELECT `+pulseColumns+` FROM pulses WHERE id = ?`, id)
	p, err := scanPulse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pulse %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListPulses returns all pulses for a workflow in creation order
func (s *Store) ListPulses(workflowID string) ([]*domain.Pulse, error) {
	rows, err := s.db.Query(`SELECT `+pulseColumns+` FROM pulses WHERE workflow_id = ? ORDER BY seq`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pulses []*domain.Pulse
	for rows.Next() {
		p, err := scanPulse(rows)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, p)
	}
	return pulses, rows.Err()
}

// ListWorkflowIDs returns the distinct workflow ids that have pulses
func (s *Store) ListWorkflowIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT workflow_id FROM pulses ORDER BY workflow_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextProposedPulse returns the oldest proposed pulse for a workflow, or nil
// if none remain.
func (s *Store) NextProposedPulse(workflowID string) (*domain.Pulse, error) {
	row := s.db.QueryRow(`
		SELECT `+pulseColumns+` FROM pulses
		WHERE workflow_id = ? AND status = ?
		ORDER BY seq LIMIT 1
	`, workflowID, string(domain.PulseProposed))

	p, err := scanPulse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// StartPulse marks a proposed pulse running and records its branch and worktree
func (s *Store) StartPulse(id, branch, worktreePath string) error {
	res, err := s.db.Exec(`
		UPDATE pulses SET status = ?, pulse_branch = ?, worktree_path = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.PulseRunning), branch, worktreePath, time.Now(), id, string(domain.PulseProposed))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// CompletePulse marks a running pulse succeeded with its commit SHA. The
// commit message doubles as the persisted description.
func (s *Store) CompletePulse(id, commitSHA, description string) error {
	res, err := s.db.Exec(`
		UPDATE pulses SET status = ?, commit_sha = ?, description = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.PulseSucceeded), commitSHA, description, time.Now(), id, string(domain.PulseRunning))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// FailPulse marks a running pulse failed, recording the recovery commit if any
func (s *Store) FailPulse(id, recoverySHA string) error {
	return s.finishPulse(id, domain.PulseFailed, recoverySHA)
}

// StopPulse marks a running pulse stopped, recording the recovery commit if any
func (s *Store) StopPulse(id, recoverySHA string) error {
	return s.finishPulse(id, domain.PulseStopped, recoverySHA)
}

func (s *Store) finishPulse(id string, status domain.PulseStatus, recoverySHA string) error {
	res, err := s.db.Exec(`
		UPDATE pulses SET status = ?, recovery_commit_sha = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), nullable(recoverySHA), time.Now(), id, string(domain.PulseRunning))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// IncrementRejectionCount bumps the rejection counter for a running pulse and
// returns the new value.
func (s *Store) IncrementRejectionCount(id string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE pulses SET rejection_count = rejection_count + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, time.Now(), id, string(domain.PulseRunning))
	if err != nil {
		return 0, err
	}
	if err := requireRow(res, id); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRow(`SELECT rejection_count FROM pulses WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetUnresolvedIssues flags a succeeded pulse as completed with acknowledged
// issues. The flag is meaningless on any other status, so the guard rejects it.
func (s *Store) SetUnresolvedIssues(id string) error {
	res, err := s.db.Exec(`UPDATE pulses SET has_unresolved_issues = TRUE, updated_at = ? WHERE id = ? AND status = ?`,
		time.Now(), id, string(domain.PulseSucceeded))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pulse %s: %w", id, ErrIllegalTransition)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPulse(row rowScanner) (*domain.Pulse, error) {
	var p domain.Pulse
	var status string
	var branch, worktree, commitSHA, recoverySHA sql.NullString

	err := row.Scan(&p.ID, &p.WorkflowID, &p.Description, &status, &branch, &worktree,
		&p.RejectionCount, &p.HasUnresolvedIssues, &commitSHA, &recoverySHA, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PulseStatus(status)
	p.PulseBranch = branch.String
	p.WorktreePath = worktree.String
	p.CommitSHA = commitSHA.String
	p.RecoveryCommitSHA = recoverySHA.String
	return &p, nil
}
