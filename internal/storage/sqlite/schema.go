package sqlite

const schema = `
-- Rules extracted from the governing document plus built-in orchestration rules
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    severity TEXT NOT NULL,
    principle_ref TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL CHECK(length(description) <= 500),
    triggers TEXT NOT NULL DEFAULT '[]',
    actions TEXT NOT NULL DEFAULT '[]',
    auto_remediation INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(active);

-- Violations (append-only except resolved)
CREATE TABLE IF NOT EXISTS violations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '' CHECK(length(context) <= 500),
    operation TEXT NOT NULL DEFAULT '' CHECK(length(operation) <= 500),
    remediation TEXT NOT NULL DEFAULT '',
    resolved INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (rule_id) REFERENCES rules(id)
);

CREATE INDEX IF NOT EXISTS idx_violations_rule ON violations(rule_id);
CREATE INDEX IF NOT EXISTS idx_violations_created_at ON violations(created_at);

-- Growth governance threshold events (append-only)
CREATE TABLE IF NOT EXISTS threshold_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    kind TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    change_type TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    threshold_violated INTEGER NOT NULL DEFAULT 0,
    current_value REAL NOT NULL DEFAULT 0,
    threshold_value REAL NOT NULL DEFAULT 0,
    response_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_threshold_events_timestamp ON threshold_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_threshold_events_kind ON threshold_events(kind);

-- Instruction timing (one row per prompt)
CREATE TABLE IF NOT EXISTS instruction_timings (
    session_id TEXT NOT NULL,
    instruction_id TEXT NOT NULL,
    instruction_type TEXT NOT NULL DEFAULT 'general',
    prompt TEXT NOT NULL DEFAULT '' CHECK(length(prompt) <= 500),
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL DEFAULT 0,
    total_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    closed INTEGER NOT NULL DEFAULT 0,
    tool_calls INTEGER NOT NULL DEFAULT 0,
    tool_time_ms INTEGER NOT NULL DEFAULT 0,
    complexity_score REAL NOT NULL DEFAULT 0 CHECK(complexity_score >= 0 AND complexity_score <= 1),
    tier TEXT NOT NULL DEFAULT 'fast',
    real_execution INTEGER NOT NULL DEFAULT 0,
    transparency INTEGER NOT NULL DEFAULT 0,
    real_work_ratio REAL NOT NULL DEFAULT 0,
    evidence_documented INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, instruction_id)
);

CREATE INDEX IF NOT EXISTS idx_instruction_timings_start ON instruction_timings(start_ms);
CREATE INDEX IF NOT EXISTS idx_instruction_timings_closed ON instruction_timings(closed);

-- Tool timing (one row per Pre/Post pair)
CREATE TABLE IF NOT EXISTS tool_timings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    instruction_id TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    tool_index INTEGER NOT NULL,
    parameters TEXT NOT NULL DEFAULT '' CHECK(length(parameters) <= 500),
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL DEFAULT 0,
    execution_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    real_execution INTEGER NOT NULL DEFAULT 0,
    result_size_bytes INTEGER NOT NULL DEFAULT 0,
    evidence_documented INTEGER NOT NULL DEFAULT 0,
    details TEXT NOT NULL DEFAULT '',
    CHECK(end_ms = 0 OR end_ms >= start_ms),
    FOREIGN KEY (session_id, instruction_id) REFERENCES instruction_timings(session_id, instruction_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tool_timings_instruction ON tool_timings(session_id, instruction_id);
CREATE INDEX IF NOT EXISTS idx_tool_timings_start ON tool_timings(start_ms);

-- Compliance metric rows (append-only)
CREATE TABLE IF NOT EXISTS compliance_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_type TEXT NOT NULL,
    value REAL NOT NULL,
    threshold REAL NOT NULL DEFAULT 0,
    compliant INTEGER NOT NULL DEFAULT 0,
    details TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compliance_metrics_type_ts ON compliance_metrics(metric_type, timestamp);

-- Predictions (append-only)
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    timestamp DATETIME NOT NULL,
    class INTEGER NOT NULL,
    class_label TEXT NOT NULL,
    probability REAL NOT NULL,
    confidence REAL NOT NULL,
    risk_level TEXT NOT NULL,
    features TEXT NOT NULL DEFAULT '[]',
    recommendations TEXT NOT NULL DEFAULT '[]',
    horizon_hours INTEGER NOT NULL DEFAULT 24,
    model TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_predictions_timestamp ON predictions(timestamp);
`
