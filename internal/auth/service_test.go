package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/store"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:      "test-secret",
		SessionTTL:     24 * time.Hour,
		RememberTTL:    30 * 24 * time.Hour,
		OAuthTTL:       7 * 24 * time.Hour,
		PendingUserTTL: 24 * time.Hour,
	}
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.NewWithDB(db)
	return NewService(st, mail.NewSMTPMailer(config.SMTPConfig{}), testConfig(), "https://app.example.com"), mock
}

func userRows(passwordHash string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "email", "password_hash", "first_name", "last_name",
		"deactivated_at", "rate_limit", "allow_ip_whitelist", "send_error_alerts",
		"profile_picture", "created_at",
	}).AddRow("user-1", "org-1", "a@b.co", passwordHash, "Ada", "Lovelace",
		nil, 1000, false, true, "", time.Now())
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	u := &store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}

	token, err := svc.IssueSessionToken(u, time.Hour)
	require.NoError(t, err)

	p, err := svc.ParseSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "org-1", p.OrgID)
	assert.Equal(t, "a@b.co", p.Email)
}

func TestExpiredSessionTokenRejected(t *testing.T) {
	svc, _ := newTestService(t)
	u := &store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}

	token, err := svc.IssueSessionToken(u, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ParseSessionToken(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestResetTokenNotAcceptedAsSession(t *testing.T) {
	svc, _ := newTestService(t)
	u := &store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}

	token, err := svc.issueResetToken(u)
	require.NoError(t, err)

	_, err = svc.ParseSessionToken(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	// Unknown email.
	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, _, errUnknown := svc.Login(ctx, "nobody@b.co", "whatever", false)

	// Known email, wrong password.
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\)`).
		WillReturnRows(userRows(string(hash)))
	_, _, errWrongPass := svc.Login(ctx, "a@b.co", "not the password", false)

	require.Error(t, errUnknown)
	require.Error(t, errWrongPass)
	assert.Equal(t, errUnknown.Error(), errWrongPass.Error())
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(errUnknown))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(errWrongPass))
}

func TestLoginRememberExtendsTTL(t *testing.T) {
	svc, mock := newTestService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE lower\(email\)`).
		WillReturnRows(userRows(string(hash)))
	_, ttl, err := svc.Login(context.Background(), "a@b.co", "correct horse", true)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, ttl)
}

func TestVerifySignupExpiredCode(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`SELECT .+ FROM pending_users`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "password_hash", "verification_code", "last_sent_at"}).
			AddRow("a@b.co", "hash", "123456", time.Now().Add(-48*time.Hour)))

	_, err := svc.VerifySignup(context.Background(), "a@b.co", "123456", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestAuthenticatePrefersPrimaryCookie(t *testing.T) {
	svc, _ := newTestService(t)
	good, err := svc.IssueSessionToken(&store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: good})
	r.AddCookie(&http.Cookie{Name: SessionFallbackCookie, Value: "garbage"})

	p, err := svc.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
}

func TestAuthenticateFallbackCookie(t *testing.T) {
	svc, _ := newTestService(t)
	good, err := svc.IssueSessionToken(&store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionFallbackCookie, Value: good})

	p, err := svc.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "org-1", p.OrgID)
}

func TestAuthenticateNoCookie(t *testing.T) {
	svc, _ := newTestService(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := svc.Authenticate(r)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestClearSessionCookiesCoversBothPaths(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookies(w)

	cookies := w.Result().Cookies()
	var paths []string
	for _, c := range cookies {
		assert.True(t, c.MaxAge < 0 || c.Expires.Before(time.Now()))
		paths = append(paths, c.Path)
	}
	assert.Contains(t, paths, "/")
	assert.Contains(t, paths, "/api")
	assert.Len(t, cookies, 4)
}
