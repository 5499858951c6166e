package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// AppendPrediction stores one prediction
func (s *SQLiteStorage) AppendPrediction(ctx context.Context, p *types.Prediction) error {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	recs, err := marshalStrings(p.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, timestamp, class, class_label, probability, confidence, risk_level,
			features, recommendations, horizon_hours, model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, utc(p.Timestamp), int(p.Class), p.Class.String(), p.Probability, p.Confidence, p.RiskLevel,
		string(features), recs, p.HorizonHours, p.ModelName,
	)
	if err != nil {
		return fmt.Errorf("failed to append prediction %s: %w", p.ID, err)
	}
	return nil
}

// RecentPredictions returns the newest predictions first
func (s *SQLiteStorage) RecentPredictions(ctx context.Context, limit int) ([]*types.Prediction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, class, class_label, probability, confidence, risk_level,
		       features, recommendations, horizon_hours, model
		FROM predictions
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []*types.Prediction
	for rows.Next() {
		var p types.Prediction
		var class int
		var features, recs string
		if err := rows.Scan(&p.ID, &p.Timestamp, &class, &p.ClassLabel, &p.Probability, &p.Confidence,
			&p.RiskLevel, &features, &recs, &p.HorizonHours, &p.ModelName); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.Class = types.ViolationClass(class)
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return nil, fmt.Errorf("prediction %s features: %w", p.ID, err)
		}
		if p.Recommendations, err = unmarshalStrings(recs); err != nil {
			return nil, fmt.Errorf("prediction %s recommendations: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
