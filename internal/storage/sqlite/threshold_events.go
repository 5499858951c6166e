package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// AppendThresholdEvent stores a growth governance event and returns its id
func (s *SQLiteStorage) AppendThresholdEvent(ctx context.Context, e *types.ThresholdEvent) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO threshold_events (
			timestamp, kind, file_path, change_type, severity,
			threshold_violated, current_value, threshold_value, response_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		utc(e.Timestamp), e.Kind, types.Snippet(e.FilePath), e.ChangeType, e.Severity,
		e.ThresholdViolated, e.CurrentValue, e.ThresholdValue, e.ResponseMs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append threshold event (kind=%s, path=%s): %w", e.Kind, e.FilePath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get threshold event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// ThresholdEventsSince returns events at or after since in timestamp order
func (s *SQLiteStorage) ThresholdEventsSince(ctx context.Context, since time.Time) ([]*types.ThresholdEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, kind, file_path, change_type, severity,
		       threshold_violated, current_value, threshold_value, response_ms
		FROM threshold_events
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, utc(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold events: %w", err)
	}
	defer rows.Close()

	var out []*types.ThresholdEvent
	for rows.Next() {
		var e types.ThresholdEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.FilePath, &e.ChangeType, &e.Severity,
			&e.ThresholdViolated, &e.CurrentValue, &e.ThresholdValue, &e.ResponseMs); err != nil {
			return nil, fmt.Errorf("failed to scan threshold event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
