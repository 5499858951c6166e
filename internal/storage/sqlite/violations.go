package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// AppendViolation stores a violation and returns its id. Snippets are
// truncated here so the length invariant holds at the write boundary.
func (s *SQLiteStorage) AppendViolation(ctx context.Context, v *types.Violation) (int64, error) {
	if v.RuleID == "" {
		return 0, fmt.Errorf("violation rule id is required")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.Context = types.Snippet(v.Context)
	v.Operation = types.Snippet(v.Operation)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (rule_id, kind, context, operation, remediation, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.RuleID, v.Kind, v.Context, v.Operation, v.Remediation, v.Resolved, utc(v.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to append violation (rule=%s): %w", v.RuleID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get violation id: %w", err)
	}
	v.ID = id
	return id, nil
}

// ResolveViolation flips the resolved flag; it is the only mutation allowed.
func (s *SQLiteStorage) ResolveViolation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE violations SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve violation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve violation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("violation %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecentViolations returns violations created at or after since, newest first
func (s *SQLiteStorage) RecentViolations(ctx context.Context, since time.Time, limit int) ([]*types.Violation, error) {
	query := `
		SELECT id, rule_id, kind, context, operation, remediation, resolved, created_at
		FROM violations
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{utc(since)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var out []*types.Violation
	for rows.Next() {
		var v types.Violation
		if err := rows.Scan(&v.ID, &v.RuleID, &v.Kind, &v.Context, &v.Operation,
			&v.Remediation, &v.Resolved, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// RuleStats summarizes rules and the violations recorded since the given time.
func (s *SQLiteStorage) RuleStats(ctx context.Context, since time.Time, topN int) (*types.RuleStats, error) {
	stats := &types.RuleStats{
		RulesByKind:          make(map[types.RuleKind]int),
		ViolationsBySeverity: make(map[types.Severity]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, active, COUNT(*) FROM rules GROUP BY kind, active`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}
	for rows.Next() {
		var kind types.RuleKind
		var active bool
		var n int
		if err := rows.Scan(&kind, &active, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan rule count: %w", err)
		}
		stats.TotalRules += n
		if active {
			stats.ActiveRules += n
			stats.RulesByKind[kind] += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sinceUTC := utc(since)
	rows, err = s.db.QueryContext(ctx, `
		SELECT r.severity, v.resolved, COUNT(*)
		FROM violations v JOIN rules r ON r.id = v.rule_id
		WHERE v.created_at >= ?
		GROUP BY r.severity, v.resolved
	`, sinceUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	for rows.Next() {
		var sev types.Severity
		var resolved bool
		var n int
		if err := rows.Scan(&sev, &resolved, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan violation count: %w", err)
		}
		stats.TotalViolations += n
		stats.ViolationsBySeverity[sev] += n
		if !resolved {
			stats.UnresolvedViolations += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if topN <= 0 {
		return stats, nil
	}
	rows, err = s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.severity, r.description, COUNT(*) AS n
		FROM violations v JOIN rules r ON r.id = v.rule_id
		WHERE v.created_at >= ?
		GROUP BY r.id
		ORDER BY n DESC, r.id ASC
		LIMIT ?
	`, sinceUTC, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc types.RuleCount
		if err := rows.Scan(&rc.RuleID, &rc.Kind, &rc.Severity, &rc.Description, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top rule: %w", err)
		}
		stats.TopRules = append(stats.TopRules, rc)
	}
	return stats, rows.Err()
}
