package domain

import "time"

// Turn is one completed assistant turn in an agent session
type Turn struct {
	ID        string
	SessionID string
	Role      string
	CreatedAt time.Time
}

// ToolCall is one tool invocation recorded within a turn. Input and Output
// hold the raw JSON exchanged with the tool.
type ToolCall struct {
	ID        string
	TurnID    string
	ToolName  string
	Input     string
	Output    string
	Success   bool
	CreatedAt time.Time
}
