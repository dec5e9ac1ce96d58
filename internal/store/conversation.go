package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// SaveTurn persists a completed conversation turn
func (s *Store) SaveTurn(turn *domain.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO turns (id, session_id, role, created_at) VALUES (?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Role, turn.CreatedAt)
	return err
}

// SaveToolCall persists a tool invocation within a turn
func (s *Store) SaveToolCall(call *domain.ToolCall) error {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO tool_calls (id, turn_id, tool_name, input, output, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, call.ID, call.TurnID, call.ToolName, call.Input, call.Output, call.Success, call.CreatedAt)
	return err
}

// RecentAssistantTurns returns the last n assistant turns of a session in
// chronological order.
func (s *Store) RecentAssistantTurns(sessionID string, n int) ([]*domain.Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, created_at FROM (
			SELECT rowid AS rid, id, session_id, role, created_at FROM turns
			WHERE session_id = ? AND role = 'assistant'
			ORDER BY rid DESC LIMIT ?
		) ORDER BY rid ASC
	`, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []*domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// ToolCallsForTurn returns a turn's tool calls in invocation order
func (s *Store) ToolCallsForTurn(turnID string) ([]*domain.ToolCall, error) {
	rows, err := s.db.Query(`
		SELECT id, turn_id, tool_name, input, output, success, created_at
		FROM tool_calls WHERE turn_id = ? ORDER BY rowid ASC
	`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*domain.ToolCall
	for rows.Next() {
		var c domain.ToolCall
		var input, output sql.NullString
		if err := rows.Scan(&c.ID, &c.TurnID, &c.ToolName, &input, &output, &c.Success, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Input = input.String
		c.Output = output.String
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}
