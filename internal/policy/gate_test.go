package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

func newTestGate(t *testing.T) (*Gate, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewGate(store.NewWithDB(db), nil), mock
}

func testUser(rateLimit int, allowlist bool) *store.User {
	return &store.User{ID: "user-1", OrgID: "org-1", RateLimit: rateLimit, AllowIPWhitelist: allowlist}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4431"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	r.Header.Set("X-Real-IP", "192.0.2.1")
	assert.Equal(t, "198.51.100.7", ClientIP(r))
}

func TestClientIPFallsBackToRealIPThenPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4431"
	r.Header.Set("X-Real-IP", "192.0.2.1")
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Del("X-Real-IP")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIPNormalizesMappedIPv4(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "::ffff:10.0.0.5")
	assert.Equal(t, "10.0.0.5", ClientIP(r))
}

func TestCheckIPDisabledAllowsAnything(t *testing.T) {
	g, _ := newTestGate(t)
	err := g.CheckIP(context.Background(), testUser(100, false), "198.51.100.7")
	assert.NoError(t, err)
}

func TestCheckIPDeniesWithCurrentIP(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM ip_allowlist`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := g.CheckIP(context.Background(), testUser(100, true), "198.51.100.7")
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "198.51.100.7", apperr.MetaOf(err)["currentIp"])
}

func TestCheckIPMatchAdmits(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM ip_allowlist`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.NoError(t, g.CheckIP(context.Background(), testUser(100, true), "10.0.0.5"))
}

func TestCheckIPFailsOpenOnStoreError(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM ip_allowlist`).
		WillReturnError(errors.New("connection refused"))

	assert.NoError(t, g.CheckIP(context.Background(), testUser(100, true), "10.0.0.5"))
}

func TestCheckRateUnderQuotaInsertsSample(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_rate_samples`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO api_rate_samples`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := g.CheckRate(context.Background(), testUser(5, false), "/flows", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRateAtQuotaRejectsWithoutSample(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_rate_samples`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	res, err := g.CheckRate(context.Background(), testUser(5, false), "/flows", "10.0.0.5")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, rateWindow, res.RetryIn)
	// No INSERT was expected; sample count must stay at the quota.
	require.NoError(t, mock.ExpectationsWereMet())
}
