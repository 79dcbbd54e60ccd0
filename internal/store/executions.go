package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/backend/internal/apperr"
)

// CreateExecution writes a running FlowExecution row. The engine calls this
// before launching the execution task; the API returns as soon as the row is
// committed.
func (s *Store) CreateExecution(ctx context.Context, flowID string, version int, triggerType string, triggerData json.RawMessage) (*FlowExecution, error) {
	ex := &FlowExecution{
		ID:          uuid.NewString(),
		FlowID:      flowID,
		FlowVersion: version,
		Status:      ExecutionStatusRunning,
		TriggerType: triggerType,
		TriggerData: triggerData,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_executions (id, flow_id, flow_version, status, trigger_type, trigger_data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ex.ID, ex.FlowID, ex.FlowVersion, ex.Status, ex.TriggerType, nullJSON(ex.TriggerData), ex.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return ex, nil
}

// FinishExecution transitions a running execution to a terminal state. It is
// a no-op when the execution already reached a terminal state (terminal
// states are sticky), which makes cancellation races safe.
func (s *Store) FinishExecution(ctx context.Context, executionID, status, errorMessage string, executionTimeMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE flow_executions
		SET status = $1, error_message = NULLIF($2, ''), completed_at = now(), execution_time_ms = $3
		WHERE id = $4 AND status = 'running'`,
		status, errorMessage, executionTimeMs, executionID)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	return nil
}

// CancelExecution flips running → cancelled. Terminal states are untouched;
// the call reports whether a transition happened.
func (s *Store) CancelExecution(ctx context.Context, orgID, executionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flow_executions e
		SET status = 'cancelled', completed_at = now()
		FROM flows f
		WHERE e.id = $1 AND e.flow_id = f.id AND f.org_id = $2 AND e.status = 'running'`,
		executionID, orgID)
	if err != nil {
		return false, fmt.Errorf("cancel execution: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetExecution returns an execution scoped through its flow's org.
func (s *Store) GetExecution(ctx context.Context, orgID, executionID string) (*FlowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.flow_id, e.flow_version, e.status, e.trigger_type,
		       COALESCE(e.trigger_data, 'null'), e.started_at, e.completed_at,
		       COALESCE(e.error_message, ''), e.execution_time_ms
		FROM flow_executions e JOIN flows f ON f.id = e.flow_id
		WHERE e.id = $1 AND f.org_id = $2`, executionID, orgID)
	return scanExecution(row)
}

// ExecutionStatus is a cheap status read used by the engine between nodes to
// observe cooperative cancellation.
func (s *Store) ExecutionStatus(ctx context.Context, executionID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM flow_executions WHERE id = $1`, executionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "execution not found")
	}
	if err != nil {
		return "", fmt.Errorf("execution status: %w", err)
	}
	return status, nil
}

func scanExecution(row *sql.Row) (*FlowExecution, error) {
	var ex FlowExecution
	err := row.Scan(&ex.ID, &ex.FlowID, &ex.FlowVersion, &ex.Status, &ex.TriggerType,
		&ex.TriggerData, &ex.StartedAt, &ex.CompletedAt, &ex.ErrorMessage, &ex.ExecutionTimeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "execution not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	return &ex, nil
}

const executionColumns = `e.id, e.flow_id, e.flow_version, e.status, e.trigger_type,
	COALESCE(e.trigger_data, 'null'), e.started_at, e.completed_at,
	COALESCE(e.error_message, ''), e.execution_time_ms`

// ListFlowExecutions returns the newest executions of one flow.
func (s *Store) ListFlowExecutions(ctx context.Context, orgID, flowID string, limit int) ([]*FlowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM flow_executions e JOIN flows f ON f.id = e.flow_id
		WHERE e.flow_id = $1 AND f.org_id = $2
		ORDER BY e.started_at DESC LIMIT $3`, flowID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list flow executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListRecentExecutions returns the newest executions across the org.
func (s *Store) ListRecentExecutions(ctx context.Context, orgID string, limit int) ([]*FlowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM flow_executions e JOIN flows f ON f.id = e.flow_id
		WHERE f.org_id = $1
		ORDER BY e.started_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent executions: %w", err)
	}
	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]*FlowExecution, error) {
	defer rows.Close()
	var out []*FlowExecution
	for rows.Next() {
		var ex FlowExecution
		if err := rows.Scan(&ex.ID, &ex.FlowID, &ex.FlowVersion, &ex.Status, &ex.TriggerType,
			&ex.TriggerData, &ex.StartedAt, &ex.CompletedAt, &ex.ErrorMessage, &ex.ExecutionTimeMs); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// DeleteExecution removes logs, then steps, then the execution row, in that
// order, only when the execution's flow belongs to orgID.
func (s *Store) DeleteExecution(ctx context.Context, orgID, executionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owned bool
		err := tx.QueryRowContext(ctx, `
			SELECT true FROM flow_executions e JOIN flows f ON f.id = e.flow_id
			WHERE e.id = $1 AND f.org_id = $2`, executionID, orgID).Scan(&owned)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "execution not found")
		}
		if err != nil {
			return fmt.Errorf("check execution ownership: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM execution_logs WHERE execution_id = $1`, executionID); err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM execution_steps WHERE execution_id = $1`, executionID); err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM flow_executions WHERE id = $1`, executionID); err != nil {
			return fmt.Errorf("delete execution: %w", err)
		}
		return nil
	})
}

// StartStep inserts a running ExecutionStep for a node.
func (s *Store) StartStep(ctx context.Context, executionID, nodeID, nodeType, nodeKind string, input json.RawMessage) (*ExecutionStep, error) {
	now := time.Now().UTC()
	step := &ExecutionStep{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		NodeKind:    nodeKind,
		Status:      StepStatusRunning,
		StartedAt:   &now,
		InputData:   input,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, node_type, node_kind, status, started_at, input_data, retry_count)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, 0)`,
		step.ID, step.ExecutionID, step.NodeID, step.NodeType, step.NodeKind,
		step.Status, step.StartedAt, nullJSON(step.InputData))
	if err != nil {
		return nil, fmt.Errorf("start step: %w", err)
	}
	return step, nil
}

// CompleteStep marks a step completed with its output payload.
func (s *Store) CompleteStep(ctx context.Context, stepID string, input, output json.RawMessage, elapsedMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE execution_steps
		SET status = 'completed', completed_at = now(), input_data = $1, output_data = $2, execution_time_ms = $3
		WHERE id = $4`,
		nullJSON(input), nullJSON(output), elapsedMs, stepID)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

// FailStep marks a step failed with the error that stopped it.
func (s *Store) FailStep(ctx context.Context, stepID, errorMessage string, elapsedMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE execution_steps
		SET status = 'failed', completed_at = now(), error_message = $1, execution_time_ms = $2
		WHERE id = $3`,
		errorMessage, elapsedMs, stepID)
	if err != nil {
		return fmt.Errorf("fail step: %w", err)
	}
	return nil
}

// ListSteps returns the steps of an execution in start order.
func (s *Store) ListSteps(ctx context.Context, orgID, executionID string) ([]*ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.execution_id, s.node_id, s.node_type, COALESCE(s.node_kind, ''),
		       s.status, s.started_at, s.completed_at,
		       COALESCE(s.input_data, 'null'), COALESCE(s.output_data, 'null'),
		       COALESCE(s.error_message, ''), s.execution_time_ms, s.retry_count
		FROM execution_steps s
		JOIN flow_executions e ON e.id = s.execution_id
		JOIN flows f ON f.id = e.flow_id
		WHERE s.execution_id = $1 AND f.org_id = $2
		ORDER BY s.started_at ASC NULLS LAST`, executionID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*ExecutionStep
	for rows.Next() {
		var st ExecutionStep
		if err := rows.Scan(&st.ID, &st.ExecutionID, &st.NodeID, &st.NodeType, &st.NodeKind,
			&st.Status, &st.StartedAt, &st.CompletedAt, &st.InputData, &st.OutputData,
			&st.ErrorMessage, &st.ExecutionTimeMs, &st.RetryCount); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// AppendLog inserts one execution log line. stepID may be empty.
func (s *Store) AppendLog(ctx context.Context, executionID, stepID, level, message string, metadata json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, execution_id, step_id, level, message, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, now())`,
		uuid.NewString(), executionID, stepID, level, message, nullJSON(metadata))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns the newest log lines of an execution, oldest first within
// the window.
func (s *Store) ListLogs(ctx context.Context, orgID, executionID string, limit int) ([]*ExecutionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.execution_id, COALESCE(l.step_id, ''), l.level, l.message,
		       COALESCE(l.metadata, 'null'), l.created_at
		FROM execution_logs l
		JOIN flow_executions e ON e.id = l.execution_id
		JOIN flows f ON f.id = e.flow_id
		WHERE l.execution_id = $1 AND f.org_id = $2
		ORDER BY l.created_at ASC LIMIT $3`, executionID, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		var l ExecutionLog
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.StepID, &l.Level, &l.Message,
			&l.Metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// StaleRunningExecutions lists executions stuck in running longer than the
// threshold. Readers treat these as reaper candidates; this process only
// reports them.
func (s *Store) StaleRunningExecutions(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM flow_executions
		WHERE status = 'running' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("stale executions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
