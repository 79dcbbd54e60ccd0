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

// CreateConnection stores an encrypted credential blob for a user. The blob
// must already be sealed by the vault; this layer never sees plaintext.
func (s *Store) CreateConnection(ctx context.Context, ownerUserID, provider, env, label, configEnc string) (*Connection, error) {
	c := &Connection{
		ID:          uuid.NewString(),
		OwnerUserID: ownerUserID,
		Provider:    provider,
		Env:         env,
		Label:       label,
		ConfigEnc:   configEnc,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, owner_user_id, provider, env, label, config_enc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OwnerUserID, c.Provider, c.Env, c.Label, c.ConfigEnc, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return c, nil
}

// GetConnection returns one connection owned by the user, ciphertext
// included.
func (s *Store) GetConnection(ctx context.Context, ownerUserID, connectionID string) (*Connection, error) {
	var c Connection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, provider, env, label, config_enc, created_at
		FROM connections WHERE id = $1 AND owner_user_id = $2`,
		connectionID, ownerUserID).
		Scan(&c.ID, &c.OwnerUserID, &c.Provider, &c.Env, &c.Label, &c.ConfigEnc, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "connection not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &c, nil
}

// ListConnections returns the user's connections without ciphertext.
func (s *Store) ListConnections(ctx context.Context, ownerUserID string) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, provider, env, label, created_at
		FROM connections WHERE owner_user_id = $1 ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.OwnerUserID, &c.Provider, &c.Env, &c.Label, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteConnection removes a credential.
func (s *Store) DeleteConnection(ctx context.Context, ownerUserID, connectionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE id = $1 AND owner_user_id = $2`,
		connectionID, ownerUserID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return requireRow(res, "connection not found")
}
