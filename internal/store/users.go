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

const userColumns = `id, org_id, email, COALESCE(password_hash, ''),
	COALESCE(first_name, ''), COALESCE(last_name, ''), deactivated_at,
	rate_limit, allow_ip_whitelist, send_error_alerts,
	COALESCE(profile_picture, ''), created_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.DeactivatedAt,
		&u.RateLimit, &u.AllowIPWhitelist, &u.SendErrorAlerts,
		&u.ProfilePicture, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// GetUserByEmail looks a user up case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// CreateUserWithOrg atomically creates an organization and its first user.
// Used by signup verification and first-time OAuth login.
func (s *Store) CreateUserWithOrg(ctx context.Context, orgName, email, passwordHash, firstName, lastName string) (*User, error) {
	u := &User{
		ID:              uuid.NewString(),
		OrgID:           uuid.NewString(),
		Email:           email,
		PasswordHash:    passwordHash,
		FirstName:       firstName,
		LastName:        lastName,
		RateLimit:       1000,
		SendErrorAlerts: true,
		CreatedAt:       time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
			u.OrgID, orgName, u.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperr.Newf(apperr.KindConflict, "organization %q already exists", orgName)
			}
			return fmt.Errorf("create org: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, org_id, email, password_hash, first_name, last_name,
				rate_limit, allow_ip_whitelist, send_error_alerts, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, false, true, $8)`,
			u.ID, u.OrgID, u.Email, u.PasswordHash, u.FirstName, u.LastName,
			u.RateLimit, u.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "email already registered")
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertPendingUser creates or refreshes a signup awaiting verification.
func (s *Store) UpsertPendingUser(ctx context.Context, email, passwordHash, code string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_users (email, password_hash, verification_code, last_sent_at)
		VALUES (lower($1), $2, $3, now())
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    verification_code = EXCLUDED.verification_code,
		    last_sent_at = now()`,
		email, passwordHash, code)
	if err != nil {
		return fmt.Errorf("upsert pending user: %w", err)
	}
	return nil
}

// GetPendingUser returns the pending signup for an email.
func (s *Store) GetPendingUser(ctx context.Context, email string) (*PendingUser, error) {
	var p PendingUser
	err := s.db.QueryRowContext(ctx, `
		SELECT email, password_hash, verification_code, last_sent_at
		FROM pending_users WHERE email = lower($1)`, email).
		Scan(&p.Email, &p.PasswordHash, &p.VerificationCode, &p.LastSentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no pending signup for this email")
	}
	if err != nil {
		return nil, fmt.Errorf("get pending user: %w", err)
	}
	return &p, nil
}

// PromotePendingUser atomically creates the User (with a fresh org) and
// deletes the pending row.
func (s *Store) PromotePendingUser(ctx context.Context, email, orgName string) (*User, error) {
	var u *User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var p PendingUser
		err := tx.QueryRowContext(ctx, `
			SELECT email, password_hash FROM pending_users WHERE email = lower($1)`, email).
			Scan(&p.Email, &p.PasswordHash)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "no pending signup for this email")
		}
		if err != nil {
			return fmt.Errorf("get pending user: %w", err)
		}

		now := time.Now().UTC()
		u = &User{
			ID:              uuid.NewString(),
			OrgID:           uuid.NewString(),
			Email:           p.Email,
			PasswordHash:    p.PasswordHash,
			RateLimit:       1000,
			SendErrorAlerts: true,
			CreatedAt:       now,
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
			u.OrgID, orgName, now); err != nil {
			if isUniqueViolation(err) {
				return apperr.Newf(apperr.KindConflict, "organization %q already exists", orgName)
			}
			return fmt.Errorf("create org: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, org_id, email, password_hash, rate_limit,
				allow_ip_whitelist, send_error_alerts, created_at)
			VALUES ($1, $2, $3, $4, $5, false, true, $6)`,
			u.ID, u.OrgID, u.Email, u.PasswordHash, u.RateLimit, now); err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "email already registered")
			}
			return fmt.Errorf("create user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_users WHERE email = $1`, p.Email); err != nil {
			return fmt.Errorf("clear pending user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteStalePendingUsers drops signups older than the TTL.
func (s *Store) DeleteStalePendingUsers(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_users WHERE last_sent_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("sweep pending users: %w", err)
	}
	return res.RowsAffected()
}

// UpdateUserProfile updates the mutable profile fields.
func (s *Store) UpdateUserProfile(ctx context.Context, userID, firstName, lastName, profilePicture string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET first_name = NULLIF($1, ''), last_name = NULLIF($2, ''),
			profile_picture = NULLIF($3, '')
		WHERE id = $4`,
		firstName, lastName, profilePicture, userID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRow(res, "user not found")
}

// SetUserPassword replaces the password hash.
func (s *Store) SetUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return requireRow(res, "user not found")
}

// DeactivateUser stamps deactivated_at; the account becomes read-only.
func (s *Store) DeactivateUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET deactivated_at = now() WHERE id = $1 AND deactivated_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return requireRow(res, "user not found or already deactivated")
}

// ReactivateUser clears deactivated_at. Accounts deactivated for more than
// 30 days are ineligible.
func (s *Store) ReactivateUser(ctx context.Context, userID string) error {
	var deactivatedAt *time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT deactivated_at FROM users WHERE id = $1`, userID).Scan(&deactivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return fmt.Errorf("reactivate user: %w", err)
	}
	if deactivatedAt == nil {
		return apperr.New(apperr.KindValidation, "user is not deactivated")
	}
	if time.Since(*deactivatedAt) > 30*24*time.Hour {
		return apperr.New(apperr.KindForbidden, "account deactivated more than 30 days ago")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET deactivated_at = NULL WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reactivate user: %w", err)
	}
	return nil
}
