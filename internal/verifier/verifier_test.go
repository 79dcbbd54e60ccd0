package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/netguard"
	"github.com/flowline/backend/internal/store"
)

func newTestWorker(t *testing.T) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.NewWithDB(db)
	w := New(st, nil, config.VerifierConfig{
		ProbeDelay:   10 * time.Millisecond,
		ProbeTimeout: time.Second,
	})
	// Probe targets in these tests are loopback httptest servers.
	w.validateURL = func(string) error { return nil }
	return w, mock
}

func testIntegration(name, testURL string) *store.Integration {
	return &store.Integration{
		ID:      "integ-1",
		OrgID:   "org-1",
		Name:    name,
		Status:  store.IntegrationStatusPending,
		TestURL: testURL,
	}
}

func TestVerifySuccessfulProbe(t *testing.T) {
	var gotAuth, gotAPIKey atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotAPIKey.Store(r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w, mock := newTestWorker(t)
	// pending write, active write, info notification
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusPending, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusActive, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.Verify(context.Background(), testIntegration("Custom API", upstream.URL), "plain-key")
	require.NoError(t, err)
	w.Shutdown()

	require.NoError(t, mock.ExpectationsWereMet())
	// Plain keys get both header conventions.
	assert.Equal(t, "Bearer plain-key", gotAuth.Load())
	assert.Equal(t, "plain-key", gotAPIKey.Load())
}

func TestVerifyStripeShapedKeySendsBearerOnly(t *testing.T) {
	var gotAPIKey atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey.Store(r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w, mock := newTestWorker(t)
	mock.ExpectExec(`UPDATE integrations SET status =`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET status =`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.Verify(context.Background(), testIntegration("Stripe Test", upstream.URL), "sk_test_abc")
	require.NoError(t, err)
	w.Shutdown()

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "", gotAPIKey.Load())
}

func TestVerifyNon2xxFlipsToError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	w, mock := newTestWorker(t)
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusPending, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusError, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.Verify(context.Background(), testIntegration("Custom API", upstream.URL), "key")
	require.NoError(t, err)
	w.Shutdown()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyNoUsableURL(t *testing.T) {
	w, mock := newTestWorker(t)
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusPending, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusError, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.Verify(context.Background(), testIntegration("Totally Unknown Service", ""), "key")
	require.NoError(t, err)
	w.Shutdown()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyBlocksPrivateProbeTargets(t *testing.T) {
	w, mock := newTestWorker(t)
	w.validateURL = netguard.CheckURL
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusPending, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE integrations SET status =`).
		WithArgs(store.IntegrationStatusError, "integ-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := w.Verify(context.Background(), testIntegration("Internal", "http://10.0.0.8/health"), "key")
	require.NoError(t, err)
	w.Shutdown()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeURLInference(t *testing.T) {
	w, _ := newTestWorker(t)

	u, err := w.probeURL(testIntegration("Stripe Test", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://api.stripe.com/v1/charges?limit=1", u)

	u, err = w.probeURL(testIntegration("anything", "https://example.test/health"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/health", u)

	_, err = w.probeURL(testIntegration("mystery", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid Test URL")
}
