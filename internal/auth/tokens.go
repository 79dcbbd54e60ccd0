package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

const (
	scopeSession       = "session"
	scopePasswordReset = "password_reset"

	resetTokenTTL = time.Hour
)

type sessionClaims struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Email  string `json:"email"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

func (s *Service) signToken(claims sessionClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.cfg.JWTSecret))
}

// IssueSessionToken signs a session token for the user with the given TTL.
func (s *Service) IssueSessionToken(u *store.User, ttl time.Duration) (string, error) {
	now := time.Now()
	return s.signToken(sessionClaims{
		UserID: u.ID,
		OrgID:  u.OrgID,
		Email:  u.Email,
		Scope:  scopeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

func (s *Service) issueResetToken(u *store.User) (string, error) {
	now := time.Now()
	return s.signToken(sessionClaims{
		UserID: u.ID,
		Email:  u.Email,
		Scope:  scopePasswordReset,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTokenTTL)),
		},
	})
}

func (s *Service) parseToken(raw, wantScope string) (*sessionClaims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "invalid or expired token", err)
	}
	if claims.Scope != wantScope {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid or expired token")
	}
	return &claims, nil
}

// ParseSessionToken validates a session token and returns its principal.
func (s *Service) ParseSessionToken(raw string) (*Principal, error) {
	claims, err := s.parseToken(raw, scopeSession)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.UserID, OrgID: claims.OrgID, Email: claims.Email}, nil
}
