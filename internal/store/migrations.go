package store

const schema = `
CREATE TABLE IF NOT EXISTS pulses (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'proposed',
    pulse_branch TEXT,
    worktree_path TEXT,
    rejection_count INTEGER NOT NULL DEFAULT 0,
    has_unresolved_issues BOOLEAN NOT NULL DEFAULT FALSE,
    commit_sha TEXT,
    recovery_commit_sha TEXT,
    seq INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pulses_workflow ON pulses(workflow_id);
CREATE INDEX IF NOT EXISTS idx_pulses_status ON pulses(status);

CREATE TABLE IF NOT EXISTS workflow_pulsing (
    workflow_id TEXT PRIMARY KEY,
    repo_root TEXT NOT NULL,
    base_branch TEXT NOT NULL,
    workflow_branch TEXT NOT NULL,
    worktree_path TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preflight_setups (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL UNIQUE,
    session_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS verification_commands (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    setup_id TEXT NOT NULL REFERENCES preflight_setups(id),
    command TEXT NOT NULL,
    source TEXT NOT NULL,
    seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verification_setup ON verification_commands(setup_id);

CREATE TABLE IF NOT EXISTS baseline_outputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id TEXT NOT NULL,
    command TEXT NOT NULL,
    stdout TEXT NOT NULL DEFAULT '',
    stderr TEXT NOT NULL DEFAULT '',
    exit_code INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(workflow_id, command)
);

CREATE TABLE IF NOT EXISTS baseline_issues (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    source TEXT NOT NULL,
    pattern TEXT NOT NULL,
    issue_type TEXT NOT NULL,
    file_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_baseline_issues ON baseline_issues(workflow_id, source);

CREATE TABLE IF NOT EXISTS turns (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);

CREATE TABLE IF NOT EXISTS tool_calls (
    id TEXT PRIMARY KEY,
    turn_id TEXT NOT NULL REFERENCES turns(id),
    tool_name TEXT NOT NULL,
    input TEXT,
    output TEXT,
    success BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_turn ON tool_calls(turn_id);
`
