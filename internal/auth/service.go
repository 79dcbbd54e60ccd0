package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/store"
)

// Login failures are deliberately indistinguishable between an unknown email
// and a wrong password.
const badCredentials = "invalid email or password"

// Service owns signup, login, and session issuance.
type Service struct {
	store          *store.Store
	mailer         mail.Mailer
	cfg            config.AuthConfig
	frontendOrigin string
	logger         *log.Logger
}

// NewService wires the auth service. frontendOrigin is used to build links in
// outbound email.
func NewService(st *store.Store, mailer mail.Mailer, cfg config.AuthConfig, frontendOrigin string) *Service {
	return &Service{
		store:          st,
		mailer:         mailer,
		cfg:            cfg,
		frontendOrigin: strings.TrimRight(frontendOrigin, "/"),
		logger:         log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
}

// Signup records a pending signup and emails a 6-digit verification code.
// Re-signup for the same email replaces the previous code.
func (s *Service) Signup(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return apperr.New(apperr.KindValidation, "a valid email is required")
	}
	if len(password) < 8 {
		return apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return apperr.New(apperr.KindConflict, "email already registered")
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	code, err := sixDigitCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.UpsertPendingUser(ctx, email, string(hash), code); err != nil {
		return err
	}

	if err := s.mailer.Send(email, "Verify your Flowline account", mail.VerificationBody(code)); err != nil {
		s.logger.Printf("verification email to %s failed: %v", email, err)
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "could not send verification email", err)
	}
	return nil
}

// VerifySignup checks the emailed code and promotes the pending signup into a
// real user with a fresh organization. Codes older than the pending TTL are
// rejected.
func (s *Service) VerifySignup(ctx context.Context, email, code, orgName string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	pending, err := s.store.GetPendingUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if time.Since(pending.LastSentAt) > s.cfg.PendingUserTTL {
		return nil, apperr.New(apperr.KindValidation, "verification code expired, sign up again")
	}
	if pending.VerificationCode != strings.TrimSpace(code) {
		return nil, apperr.New(apperr.KindValidation, "incorrect verification code")
	}

	if strings.TrimSpace(orgName) == "" {
		orgName = orgNameFromEmail(email)
	}
	return s.store.PromotePendingUser(ctx, email, orgName)
}

// SessionTTL returns the default session lifetime, for callers that mint a
// session outside of Login.
func (s *Service) SessionTTL() time.Duration {
	return s.cfg.SessionTTL
}

// Login validates credentials and returns the user plus the session TTL to
// issue. remember=true extends the session to the long TTL.
func (s *Service) Login(ctx context.Context, email, password string, remember bool) (*store.User, time.Duration, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, 0, apperr.New(apperr.KindUnauthenticated, badCredentials)
		}
		return nil, 0, err
	}
	if u.PasswordHash == "" {
		// OAuth-only account.
		return nil, 0, apperr.New(apperr.KindUnauthenticated, badCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, badCredentials)
	}

	ttl := s.cfg.SessionTTL
	if remember {
		ttl = s.cfg.RememberTTL
	}
	return u, ttl, nil
}

// ForgotPassword emails a reset link when the account exists. The caller
// always observes success so the endpoint cannot be used to enumerate
// accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			s.logger.Printf("forgot-password lookup failed: %v", err)
		}
		return
	}
	token, err := s.issueResetToken(u)
	if err != nil {
		s.logger.Printf("reset token for %s failed: %v", u.ID, err)
		return
	}
	link := s.frontendOrigin + "/reset-password?token=" + token
	if err := s.mailer.Send(u.Email, "Reset your Flowline password", mail.PasswordResetBody(link)); err != nil {
		s.logger.Printf("reset email to user %s failed: %v", u.ID, err)
	}
}

// ResetPassword consumes a reset token and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.parseToken(token, scopePasswordReset)
	if err != nil {
		return err
	}
	if len(newPassword) < 8 {
		return apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.SetUserPassword(ctx, claims.UserID, string(hash))
}

// Authenticate resolves the request's principal from the session cookies.
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	token, ok := tokenFromCookies(r)
	if !ok {
		return nil, apperr.New(apperr.KindUnauthenticated, "not signed in")
	}
	return s.ParseSessionToken(token)
}

// PrincipalFromHeader authenticates from raw headers. Used by socket
// transports that hold the handshake headers but not the *http.Request.
func (s *Service) PrincipalFromHeader(h http.Header) (*Principal, error) {
	r := &http.Request{Header: h}
	return s.Authenticate(r)
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func orgNameFromEmail(email string) string {
	local := email
	if i := strings.Index(email, "@"); i > 0 {
		local = email[:i]
	}
	return local + "'s workspace"
}
