package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/backend/internal/apperr"
)

const integrationColumns = `id, org_id, name, status, COALESCE(test_url, ''), last_checked, created_at`

func scanIntegration(row *sql.Row) (*Integration, error) {
	var in Integration
	err := row.Scan(&in.ID, &in.OrgID, &in.Name, &in.Status, &in.TestURL, &in.LastChecked, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "integration not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan integration: %w", err)
	}
	return &in, nil
}

// CreateIntegration inserts a pending integration. Names are unique per org,
// case-insensitively.
func (s *Store) CreateIntegration(ctx context.Context, orgID, name, testURL string) (*Integration, error) {
	in := &Integration{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		Status:    IntegrationStatusPending,
		TestURL:   testURL,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, org_id, name, status, test_url, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		in.ID, in.OrgID, in.Name, in.Status, in.TestURL, in.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Newf(apperr.KindConflict, "integration %q already exists", name)
		}
		return nil, fmt.Errorf("create integration: %w", err)
	}
	return in, nil
}

// GetIntegration returns one integration scoped to its org.
func (s *Store) GetIntegration(ctx context.Context, orgID, integrationID string) (*Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE id = $1 AND org_id = $2`, integrationID, orgID)
	return scanIntegration(row)
}

// FindIntegrationByName matches case-insensitively within an org.
func (s *Store) FindIntegrationByName(ctx context.Context, orgID, name string) (*Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE org_id = $1 AND lower(name) = lower($2)`, orgID, name)
	return scanIntegration(row)
}

// ListIntegrations returns all integrations for an org.
func (s *Store) ListIntegrations(ctx context.Context, orgID string) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.OrgID, &in.Name, &in.Status, &in.TestURL,
			&in.LastChecked, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// IntegrationsNamed returns every integration across orgs whose name
// contains the fragment, case-insensitively. The startup self-check uses
// this to find provider-backed rows.
func (s *Store) IntegrationsNamed(ctx context.Context, fragment string) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE lower(name) LIKE '%' || lower($1) || '%'
		ORDER BY created_at ASC`, fragment)
	if err != nil {
		return nil, fmt.Errorf("integrations named %q: %w", fragment, err)
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.ID, &in.OrgID, &in.Name, &in.Status, &in.TestURL,
			&in.LastChecked, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// UpdateIntegrationStatus writes the probe outcome. Last write wins on
// last_checked; concurrent re-verification is allowed.
func (s *Store) UpdateIntegrationStatus(ctx context.Context, integrationID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET status = $1, last_checked = now() WHERE id = $2`,
		status, integrationID)
	if err != nil {
		return fmt.Errorf("update integration status: %w", err)
	}
	return requireRow(res, "integration not found")
}

// UpdateIntegration changes the mutable fields (name, test URL).
func (s *Store) UpdateIntegration(ctx context.Context, orgID, integrationID, name, testURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET name = COALESCE(NULLIF($1, ''), name),
			test_url = NULLIF($2, '')
		WHERE id = $3 AND org_id = $4`,
		name, testURL, integrationID, orgID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindConflict, "integration %q already exists", name)
		}
		return fmt.Errorf("update integration: %w", err)
	}
	return requireRow(res, "integration not found")
}

// DeleteIntegration removes the row.
func (s *Store) DeleteIntegration(ctx context.Context, orgID, integrationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE id = $1 AND org_id = $2`, integrationID, orgID)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	return requireRow(res, "integration not found")
}
