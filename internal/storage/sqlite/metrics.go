package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// AppendMetric stores a compliance metric row and returns its id
func (s *SQLiteStorage) AppendMetric(ctx context.Context, m *types.ComplianceMetric) (int64, error) {
	if m.MetricType == "" {
		return 0, fmt.Errorf("metric type is required")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_metrics (metric_type, value, threshold, compliant, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.MetricType, m.Value, m.Threshold, m.Compliant, types.Snippet(m.Details), utc(m.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("failed to append metric %s: %w", m.MetricType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get metric id: %w", err)
	}
	m.ID = id
	return id, nil
}

// MetricsSince returns metric rows at or after since in timestamp order,
// optionally restricted to the given metric types.
func (s *SQLiteStorage) MetricsSince(ctx context.Context, since time.Time, metricTypes ...string) ([]*types.ComplianceMetric, error) {
	query := `
		SELECT id, metric_type, value, threshold, compliant, details, timestamp
		FROM compliance_metrics
		WHERE timestamp >= ?
	`
	args := []interface{}{utc(since)}
	if len(metricTypes) > 0 {
		query += ` AND metric_type IN (` + strings.TrimSuffix(strings.Repeat("?,", len(metricTypes)), ",") + `)`
		for _, mt := range metricTypes {
			args = append(args, mt)
		}
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []*types.ComplianceMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMetric returns the newest row of a metric type
func (s *SQLiteStorage) LatestMetric(ctx context.Context, metricType string) (*types.ComplianceMetric, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, metric_type, value, threshold, compliant, details, timestamp
		FROM compliance_metrics
		WHERE metric_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, metricType)
	m, err := scanMetric(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metric %s: %w", metricType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric %s: %w", metricType, err)
	}
	return m, nil
}

func scanMetric(row rowScanner) (*types.ComplianceMetric, error) {
	var m types.ComplianceMetric
	if err := row.Scan(&m.ID, &m.MetricType, &m.Value, &m.Threshold, &m.Compliant, &m.Details, &m.Timestamp); err != nil {
		return nil, err
	}
	return &m, nil
}
