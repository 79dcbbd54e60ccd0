package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CountRateSamples counts API samples for a user since the cutoff.
func (s *Store) CountRateSamples(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_rate_samples WHERE user_id = $1 AND ts >= $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rate samples: %w", err)
	}
	return n, nil
}

// InsertRateSample appends one accounting row for an admitted request.
func (s *Store) InsertRateSample(ctx context.Context, userID, endpoint, ipAddress string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_rate_samples (user_id, endpoint, ip_address, ts)
		VALUES ($1, $2, NULLIF($3, ''), now())`,
		userID, endpoint, ipAddress)
	if err != nil {
		return fmt.Errorf("insert rate sample: %w", err)
	}
	return nil
}

// SweepRateSamples deletes samples older than the retention window.
func (s *Store) SweepRateSamples(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_rate_samples WHERE ts < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("sweep rate samples: %w", err)
	}
	return res.RowsAffected()
}

// ListAllowlist returns the user's permitted source addresses.
func (s *Store) ListAllowlist(ctx context.Context, userID string) ([]*IPAllowlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, ip_address, COALESCE(description, ''), created_at
		FROM ip_allowlist WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list allowlist: %w", err)
	}
	defer rows.Close()

	var out []*IPAllowlistEntry
	for rows.Next() {
		var e IPAllowlistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.IPAddress, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allowlist entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// IPAllowed reports whether ip matches a row for the user.
func (s *Store) IPAllowed(ctx context.Context, userID, ip string) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ip_allowlist WHERE user_id = $1 AND ip_address = $2)`,
		userID, ip).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check allowlist: %w", err)
	}
	return allowed, nil
}

// AddAllowlistEntry registers a permitted address for the user.
func (s *Store) AddAllowlistEntry(ctx context.Context, userID, ip, description string) (*IPAllowlistEntry, error) {
	e := &IPAllowlistEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		IPAddress:   ip,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_allowlist (id, user_id, ip_address, description, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		e.ID, e.UserID, e.IPAddress, e.Description, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add allowlist entry: %w", err)
	}
	return e, nil
}

// RemoveAllowlistEntry deletes one entry owned by the user.
func (s *Store) RemoveAllowlistEntry(ctx context.Context, userID, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ip_allowlist WHERE id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		return fmt.Errorf("remove allowlist entry: %w", err)
	}
	return requireRow(res, "allowlist entry not found")
}

// SetAllowIPWhitelist toggles allowlist enforcement for the user.
func (s *Store) SetAllowIPWhitelist(ctx context.Context, userID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET allow_ip_whitelist = $1 WHERE id = $2`, enabled, userID)
	if err != nil {
		return fmt.Errorf("toggle allowlist: %w", err)
	}
	return requireRow(res, "user not found")
}

// AppendAudit inserts an audit row. Failures here are logged by the caller
// but never surfaced to the request.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, target_type, target_id, route, method,
			ip, user_agent, status_code, request_id, metadata, created_at)
		VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11, now())`,
		e.UserID, e.Action, e.TargetType, e.TargetID, e.Route, e.Method,
		e.IP, e.UserAgent, e.StatusCode, e.RequestID, nullJSON(e.Metadata))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
