package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// AlertsSince merges violated threshold events and rule violations into one
// timestamp-ordered alert stream. Violations take the severity of their rule
// and a "rule:<KIND>" type.
func (s *SQLiteStorage) AlertsSince(ctx context.Context, since time.Time) ([]*types.Alert, error) {
	sinceUTC := utc(since)
	var out []*types.Alert

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, severity, kind, response_ms
		FROM threshold_events
		WHERE threshold_violated = 1 AND timestamp >= ?
	`, sinceUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold alerts: %w", err)
	}
	for rows.Next() {
		var a types.Alert
		if err := rows.Scan(&a.Timestamp, &a.Severity, &a.Type, &a.ResponseMs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan threshold alert: %w", err)
		}
		out = append(out, &a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT v.created_at, r.severity, v.kind
		FROM violations v JOIN rules r ON r.id = v.rule_id
		WHERE v.created_at >= ?
	`, sinceUTC)
	if err != nil {
		return nil, fmt.Errorf("failed to query violation alerts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a types.Alert
		var kind string
		if err := rows.Scan(&a.Timestamp, &a.Severity, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan violation alert: %w", err)
		}
		a.Type = "rule:" + kind
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
