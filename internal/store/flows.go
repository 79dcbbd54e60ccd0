package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/flowline/backend/internal/apperr"
)

// CreateFlow inserts a draft flow. Names are unique per org,
// case-insensitively.
func (s *Store) CreateFlow(ctx context.Context, orgID, name, createdBy string) (*Flow, error) {
	f := &Flow{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		Status:    FlowStatusDraft,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (id, org_id, name, status, is_deleted, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $6, $6)`,
		f.ID, f.OrgID, f.Name, f.Status, f.CreatedBy, f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Newf(apperr.KindConflict, "flow %q already exists", name)
		}
		return nil, fmt.Errorf("create flow: %w", err)
	}
	return f, nil
}

// GetFlow returns a flow scoped to its org. Soft-deleted flows are invisible.
func (s *Store) GetFlow(ctx context.Context, orgID, flowID string) (*Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, status, is_deleted, created_by, created_at, updated_at
		FROM flows WHERE id = $1 AND org_id = $2 AND is_deleted = false`,
		flowID, orgID)
	return scanFlow(row)
}

// flowByID fetches without org scoping; used internally by the engine, which
// re-checks ownership through the execution's org join.
func (s *Store) flowByID(ctx context.Context, flowID string) (*Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, status, is_deleted, created_by, created_at, updated_at
		FROM flows WHERE id = $1 AND is_deleted = false`, flowID)
	return scanFlow(row)
}

func scanFlow(row *sql.Row) (*Flow, error) {
	var f Flow
	err := row.Scan(&f.ID, &f.OrgID, &f.Name, &f.Status, &f.IsDeleted,
		&f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "flow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}
	return &f, nil
}

// ListFlows returns all non-deleted flows for an org, newest first.
func (s *Store) ListFlows(ctx context.Context, orgID string) ([]*Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, status, is_deleted, created_by, created_at, updated_at
		FROM flows WHERE org_id = $1 AND is_deleted = false
		ORDER BY updated_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		var f Flow
		if err := rows.Scan(&f.ID, &f.OrgID, &f.Name, &f.Status, &f.IsDeleted,
			&f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, &f)
	}
	return flows, rows.Err()
}

// UpdateFlowStatus sets a flow's status.
func (s *Store) UpdateFlowStatus(ctx context.Context, orgID, flowID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flows SET status = $1, updated_at = now()
		WHERE id = $2 AND org_id = $3 AND is_deleted = false`,
		status, flowID, orgID)
	if err != nil {
		return fmt.Errorf("update flow status: %w", err)
	}
	return requireRow(res, "flow not found")
}

// SoftDeleteFlow marks the flow deleted; it vanishes from all org-scoped
// listings but executions remain queryable for audit.
func (s *Store) SoftDeleteFlow(ctx context.Context, orgID, flowID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flows SET is_deleted = true, updated_at = now()
		WHERE id = $1 AND org_id = $2 AND is_deleted = false`,
		flowID, orgID)
	if err != nil {
		return fmt.Errorf("soft delete flow: %w", err)
	}
	return requireRow(res, "flow not found")
}

// CreateFlowVersion appends the next version for a flow. The version number
// is computed inside the transaction so concurrent saves cannot leave gaps;
// the UNIQUE(flow_id, version) constraint backstops races.
func (s *Store) CreateFlowVersion(ctx context.Context, orgID, flowID string, graph, variables json.RawMessage) (*FlowVersion, error) {
	var v FlowVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT true FROM flows WHERE id = $1 AND org_id = $2 AND is_deleted = false`,
			flowID, orgID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "flow not found")
			}
			return fmt.Errorf("check flow: %w", err)
		}

		v = FlowVersion{
			ID:        uuid.NewString(),
			FlowID:    flowID,
			Graph:     graph,
			Variables: variables,
			CreatedAt: time.Now().UTC(),
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO flow_versions (id, flow_id, version, graph, variables, created_at)
			VALUES ($1, $2,
				(SELECT COALESCE(MAX(version), 0) + 1 FROM flow_versions WHERE flow_id = $2),
				$3, $4, $5)
			RETURNING version`,
			v.ID, flowID, v.Graph, nullJSON(v.Variables), v.CreatedAt).Scan(&v.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "concurrent version save, retry")
			}
			return fmt.Errorf("insert version: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE flows SET updated_at = now() WHERE id = $1`, flowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LatestFlowVersion returns the newest version of a flow, or NotFound when
// the flow has no versions.
func (s *Store) LatestFlowVersion(ctx context.Context, flowID string) (*FlowVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, version, graph, COALESCE(variables, 'null'), created_at
		FROM flow_versions WHERE flow_id = $1
		ORDER BY version DESC LIMIT 1`, flowID)
	return scanFlowVersion(row)
}

// GetFlowVersion returns one specific version.
func (s *Store) GetFlowVersion(ctx context.Context, flowID string, version int) (*FlowVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, version, graph, COALESCE(variables, 'null'), created_at
		FROM flow_versions WHERE flow_id = $1 AND version = $2`, flowID, version)
	return scanFlowVersion(row)
}

func scanFlowVersion(row *sql.Row) (*FlowVersion, error) {
	var v FlowVersion
	err := row.Scan(&v.ID, &v.FlowID, &v.Version, &v.Graph, &v.Variables, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "flow version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow version: %w", err)
	}
	return &v, nil
}

// ListFlowVersions returns version metadata newest first. Graph bodies are
// included; callers that only need the list can ignore them.
func (s *Store) ListFlowVersions(ctx context.Context, orgID, flowID string) ([]*FlowVersion, error) {
	if _, err := s.GetFlow(ctx, orgID, flowID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, version, graph, COALESCE(variables, 'null'), created_at
		FROM flow_versions WHERE flow_id = $1 ORDER BY version DESC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*FlowVersion
	for rows.Next() {
		var v FlowVersion
		if err := rows.Scan(&v.ID, &v.FlowID, &v.Version, &v.Graph, &v.Variables, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, notFoundMsg)
	}
	return nil
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
