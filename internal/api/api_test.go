package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/auth"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/policy"
	"github.com/flowline/backend/internal/store"
	"github.com/flowline/backend/internal/vault"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.NewWithDB(db)
	authCfg := config.AuthConfig{
		JWTSecret:      "test-secret",
		SessionTTL:     24 * time.Hour,
		RememberTTL:    30 * 24 * time.Hour,
		PendingUserTTL: 24 * time.Hour,
	}
	svc := auth.NewService(st, mail.NewSMTPMailer(config.SMTPConfig{}), authCfg, "https://app.example.com")

	srv := NewServer(Deps{
		Store:          st,
		Auth:           svc,
		Gate:           policy.NewGate(st, nil),
		Vault:          vault.New("0123456789abcdef0123456789abcdef"),
		FrontendOrigin: "https://app.example.com",
		WebhookHash:    "whsec-test",
	})
	return srv, mock
}

func sessionRequest(t *testing.T, srv *Server, method, path, body string) *http.Request {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	token, err := srv.auth.IssueSessionToken(&store.User{ID: "user-1", OrgID: "org-1", Email: "a@b.co"}, time.Hour)
	require.NoError(t, err)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	return r
}

func expectUser(mock sqlmock.Sqlmock, rateLimit int, deactivated bool) {
	var deactivatedAt interface{}
	if deactivated {
		ts := time.Now().Add(-time.Hour)
		deactivatedAt = ts
	}
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "email", "password_hash", "first_name", "last_name",
			"deactivated_at", "rate_limit", "allow_ip_whitelist", "send_error_alerts",
			"profile_picture", "created_at",
		}).AddRow("user-1", "org-1", "a@b.co", "", "Ada", "Lovelace",
			deactivatedAt, rateLimit, false, true, "", time.Now()))
}

func expectRateAdmit(mock sqlmock.Sqlmock, count int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_rate_samples`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
	mock.ExpectExec(`INSERT INTO api_rate_samples`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/flows", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRouteSetsRateHeaders(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, false)
	expectRateAdmit(mock, 4)
	mock.ExpectQuery(`SELECT .+ FROM flows`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "name", "status", "is_deleted", "created_by", "created_at", "updated_at",
		}))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodGet, "/flows", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "95", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitedRequestGets429(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 5, false)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_rate_samples`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodGet, "/flows", ""))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestDeactivatedUserIsReadOnly(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, true)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodPost, "/flows", `{"name":"Pay"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeactivatedUserCanStillRead(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, true)
	expectRateAdmit(mock, 0)
	mock.ExpectQuery(`SELECT .+ FROM flows`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "name", "status", "is_deleted", "created_by", "created_at", "updated_at",
		}))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodGet, "/flows", ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateVersionRejectsCyclicGraph(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, false)
	expectRateAdmit(mock, 0)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"graph":{"nodes":[{"id":"a","type":"action"},{"id":"b","type":"action"}],` +
		`"edges":[{"from":"a","to":"b"},{"from":"b","to":"a"}]}}`
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodPost, "/flows/flow-1/versions", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cycle")
}

func TestVerifySetsLongLivedSessionCookie(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectQuery(`SELECT .+ FROM pending_users`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "password_hash", "verification_code", "last_sent_at"}).
			AddRow("a@b.co", "hash", "123456", time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM pending_users`).
		WillReturnRows(sqlmock.NewRows([]string{"email", "password_hash"}).
			AddRow("a@b.co", "hash"))
	mock.ExpectExec(`INSERT INTO organizations`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM pending_users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := `{"email":"a@b.co","code":"123456","org_name":"Acme"}`
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, w.Code)
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Value)
	// The cookie must outlive the response; it carries the default session TTL.
	assert.True(t, session.Expires.After(time.Now().Add(12*time.Hour)))
}

func TestCurrentIPReflectsForwardedFor(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, false)
	expectRateAdmit(mock, 0)

	r := sessionRequest(t, srv, http.MethodGet, "/ip-whitelist/current-ip", "")
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "198.51.100.7")
}

func TestFlutterwaveWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/flutterwave", strings.NewReader(`{}`))
	r.Header.Set("verif-hash", "wrong")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFlutterwaveWebhookAcceptsGoodSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"event":"charge.completed","data":{"tx_ref":"flw-1","status":"successful"}}`
	r := httptest.NewRequest(http.MethodPost, "/webhooks/flutterwave", strings.NewReader(body))
	r.Header.Set("verif-hash", "whsec-test")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProxyFetchBlocksPrivateTargets(t *testing.T) {
	srv, mock := newTestServer(t)
	expectUser(mock, 100, false)
	expectRateAdmit(mock, 0)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"url":"http://169.254.169.254/latest/meta-data"}`
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, sessionRequest(t, srv, http.MethodPost, "/proxy/fetch", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/flows", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/flows", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
