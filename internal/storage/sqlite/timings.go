package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/steveyegge/governor/internal/types"
)

const instructionColumns = `session_id, instruction_id, instruction_type, prompt, start_ms, end_ms,
	total_ms, success, closed, tool_calls, tool_time_ms, complexity_score, tier,
	real_execution, transparency, real_work_ratio, evidence_documented`

const toolColumns = `id, session_id, instruction_id, tool_name, tool_index, parameters, start_ms,
	end_ms, execution_ms, success, real_execution, result_size_bytes, evidence_documented, details`

// UpsertInstruction inserts or replaces an instruction timing record
func (s *SQLiteStorage) UpsertInstruction(ctx context.Context, it *types.InstructionTiming) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruction_timings (`+instructionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, instruction_id) DO UPDATE SET
			instruction_type = excluded.instruction_type,
			prompt = excluded.prompt,
			start_ms = excluded.start_ms,
			end_ms = excluded.end_ms,
			total_ms = excluded.total_ms,
			success = excluded.success,
			closed = excluded.closed,
			tool_calls = excluded.tool_calls,
			tool_time_ms = excluded.tool_time_ms,
			complexity_score = excluded.complexity_score,
			tier = excluded.tier,
			real_execution = excluded.real_execution,
			transparency = excluded.transparency,
			real_work_ratio = excluded.real_work_ratio,
			evidence_documented = excluded.evidence_documented
	`,
		it.SessionID, it.InstructionID, it.Type, types.Snippet(it.Prompt), it.StartMs, it.EndMs,
		it.TotalMs, it.Success, it.Closed, it.ToolCalls, it.ToolTimeMs, it.ComplexityScore, it.Tier,
		it.RealExecution, it.Transparency, it.RealWorkRatio, it.EvidenceDocumented,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instruction %s/%s: %w", it.SessionID, it.InstructionID, err)
	}
	return nil
}

// GetInstruction retrieves one instruction timing record
func (s *SQLiteStorage) GetInstruction(ctx context.Context, sessionID, instructionID string) (*types.InstructionTiming, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instructionColumns+` FROM instruction_timings
		WHERE session_id = ? AND instruction_id = ?
	`, sessionID, instructionID)
	it, err := scanInstruction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instruction %s/%s: %w", sessionID, instructionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instruction: %w", err)
	}
	return it, nil
}

// OpenInstructions returns unclosed instructions, oldest first. An empty
// sessionID matches every session.
func (s *SQLiteStorage) OpenInstructions(ctx context.Context, sessionID string) ([]*types.InstructionTiming, error) {
	query := `SELECT ` + instructionColumns + ` FROM instruction_timings WHERE closed = 0`
	var args []interface{}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY start_ms ASC`
	return s.queryInstructions(ctx, query, args...)
}

// InstructionsSince returns instructions started at or after sinceMs
func (s *SQLiteStorage) InstructionsSince(ctx context.Context, sinceMs int64) ([]*types.InstructionTiming, error) {
	return s.queryInstructions(ctx, `
		SELECT `+instructionColumns+` FROM instruction_timings
		WHERE start_ms >= ?
		ORDER BY start_ms ASC
	`, sinceMs)
}

func (s *SQLiteStorage) queryInstructions(ctx context.Context, query string, args ...interface{}) ([]*types.InstructionTiming, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instructions: %w", err)
	}
	defer rows.Close()

	var out []*types.InstructionTiming
	for rows.Next() {
		it, err := scanInstruction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instruction: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanInstruction(row rowScanner) (*types.InstructionTiming, error) {
	var it types.InstructionTiming
	err := row.Scan(&it.SessionID, &it.InstructionID, &it.Type, &it.Prompt, &it.StartMs, &it.EndMs,
		&it.TotalMs, &it.Success, &it.Closed, &it.ToolCalls, &it.ToolTimeMs, &it.ComplexityScore, &it.Tier,
		&it.RealExecution, &it.Transparency, &it.RealWorkRatio, &it.EvidenceDocumented)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// AppendToolTiming stores a tool timing record and returns its id
func (s *SQLiteStorage) AppendToolTiming(ctx context.Context, tt *types.ToolTiming) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_timings (
			session_id, instruction_id, tool_name, tool_index, parameters, start_ms,
			end_ms, execution_ms, success, real_execution, result_size_bytes, evidence_documented, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tt.SessionID, tt.InstructionID, tt.ToolName, tt.Index, types.Snippet(tt.Parameters), tt.StartMs,
		tt.EndMs, tt.ExecutionMs, tt.Success, tt.RealExecution, tt.ResultSizeBytes, tt.EvidenceDocumented, tt.Details,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append tool timing (tool=%s): %w", tt.ToolName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get tool timing id: %w", err)
	}
	tt.ID = id
	return id, nil
}

// UpdateToolTiming writes the completion half of a tool timing record
func (s *SQLiteStorage) UpdateToolTiming(ctx context.Context, tt *types.ToolTiming) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_timings SET
			end_ms = ?, execution_ms = ?, success = ?, real_execution = ?,
			result_size_bytes = ?, evidence_documented = ?, details = ?
		WHERE id = ?
	`, tt.EndMs, tt.ExecutionMs, tt.Success, tt.RealExecution,
		tt.ResultSizeBytes, tt.EvidenceDocumented, tt.Details, tt.ID)
	if err != nil {
		return fmt.Errorf("failed to update tool timing %d: %w", tt.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tool timing %d: %w", tt.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("tool timing %d: %w", tt.ID, ErrNotFound)
	}
	return nil
}

// LatestOpenToolTiming finds the most recent open record for a tool within
// an instruction.
func (s *SQLiteStorage) LatestOpenToolTiming(ctx context.Context, sessionID, instructionID, toolName string) (*types.ToolTiming, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+toolColumns+` FROM tool_timings
		WHERE session_id = ? AND instruction_id = ? AND tool_name = ? AND end_ms = 0
		ORDER BY tool_index DESC
		LIMIT 1
	`, sessionID, instructionID, toolName)
	tt, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open tool %s in %s/%s: %w", toolName, sessionID, instructionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open tool timing: %w", err)
	}
	return tt, nil
}

// ToolTimings returns every tool record of an instruction in index order
func (s *SQLiteStorage) ToolTimings(ctx context.Context, sessionID, instructionID string) ([]*types.ToolTiming, error) {
	return s.queryTools(ctx, `
		SELECT `+toolColumns+` FROM tool_timings
		WHERE session_id = ? AND instruction_id = ?
		ORDER BY tool_index ASC
	`, sessionID, instructionID)
}

// ToolTimingsSince returns tool records started at or after sinceMs
func (s *SQLiteStorage) ToolTimingsSince(ctx context.Context, sinceMs int64) ([]*types.ToolTiming, error) {
	return s.queryTools(ctx, `
		SELECT `+toolColumns+` FROM tool_timings
		WHERE start_ms >= ?
		ORDER BY start_ms ASC, id ASC
	`, sinceMs)
}

func (s *SQLiteStorage) queryTools(ctx context.Context, query string, args ...interface{}) ([]*types.ToolTiming, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool timings: %w", err)
	}
	defer rows.Close()

	var out []*types.ToolTiming
	for rows.Next() {
		tt, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool timing: %w", err)
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

func scanTool(row rowScanner) (*types.ToolTiming, error) {
	var tt types.ToolTiming
	err := row.Scan(&tt.ID, &tt.SessionID, &tt.InstructionID, &tt.ToolName, &tt.Index, &tt.Parameters,
		&tt.StartMs, &tt.EndMs, &tt.ExecutionMs, &tt.Success, &tt.RealExecution,
		&tt.ResultSizeBytes, &tt.EvidenceDocumented, &tt.Details)
	if err != nil {
		return nil, err
	}
	return &tt, nil
}
