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

const ruleColumns = `id, kind, severity, principle_ref, description, triggers, actions,
	auto_remediation, active, created_at, updated_at`

// UpsertRule inserts a rule or replaces it by id. created_at is preserved
// across replacements; updated_at is always refreshed.
func (s *SQLiteStorage) UpsertRule(ctx context.Context, rule *types.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule %s: %w", rule.ID, err)
	}
	triggers, err := marshalStrings(rule.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}
	actions, err := marshalStrings(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			severity = excluded.severity,
			principle_ref = excluded.principle_ref,
			description = excluded.description,
			triggers = excluded.triggers,
			actions = excluded.actions,
			auto_remediation = excluded.auto_remediation,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		rule.ID, rule.Kind, rule.Severity, rule.PrincipleRef, rule.Description,
		triggers, actions, rule.AutoRemediation, rule.Active,
		utc(rule.CreatedAt), utc(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRule retrieves a rule by id
func (s *SQLiteStorage) GetRule(ctx context.Context, id string) (*types.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// ActiveRules returns all active rules ordered by id
func (s *SQLiteStorage) ActiveRules(ctx context.Context) ([]*types.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = 1 ORDER BY id`)
}

// ListRules returns every rule ordered by id
func (s *SQLiteStorage) ListRules(ctx context.Context) ([]*types.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
}

// DeactivateRulesExcept marks active rules whose id starts with prefix and is
// not in keep as inactive. It returns the number of rules deactivated.
func (s *SQLiteStorage) DeactivateRulesExcept(ctx context.Context, prefix string, keep []string) (int, error) {
	query := `UPDATE rules SET active = 0, updated_at = ? WHERE active = 1 AND id LIKE ? ESCAPE '\'`
	args := []interface{}{utc(time.Now()), escapeLike(prefix) + "%"}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated rules: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...interface{}) ([]*types.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*types.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*types.Rule, error) {
	var r types.Rule
	var triggers, actions string
	if err := row.Scan(&r.ID, &r.Kind, &r.Severity, &r.PrincipleRef, &r.Description,
		&triggers, &actions, &r.AutoRemediation, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.Triggers, err = unmarshalStrings(triggers); err != nil {
		return nil, fmt.Errorf("rule %s triggers: %w", r.ID, err)
	}
	if r.Actions, err = unmarshalStrings(actions); err != nil {
		return nil, fmt.Errorf("rule %s actions: %w", r.ID, err)
	}
	return &r, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
