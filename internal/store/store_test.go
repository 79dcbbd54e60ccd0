package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/apperr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestCreateFlowVersionComputesNextVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT true FROM flows`).
		WithArgs("flow-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO flow_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(`UPDATE flows SET updated_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := s.CreateFlowVersion(context.Background(), "org-1", "flow-1",
		json.RawMessage(`{"nodes":[],"edges":[]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFlowVersionUnknownFlow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT true FROM flows`).
		WithArgs("missing", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}))
	mock.ExpectRollback()

	_, err := s.CreateFlowVersion(context.Background(), "org-1", "missing",
		json.RawMessage(`{}`), nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExecutionOrdering(t *testing.T) {
	s, mock := newMockStore(t)

	// Logs, then steps, then the execution row, in that order.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT true FROM flow_executions`).
		WithArgs("exec-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM execution_logs`).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM execution_steps`).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM flow_executions`).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteExecution(context.Background(), "org-1", "exec-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExecutionWrongOrg(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT true FROM flow_executions`).
		WithArgs("exec-1", "other-org").
		WillReturnRows(sqlmock.NewRows([]string{"true"}))
	mock.ExpectRollback()

	err := s.DeleteExecution(context.Background(), "other-org", "exec-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCancelExecutionIsNoOpOnTerminalState(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE flow_executions e`).
		WithArgs("exec-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	transitioned, err := s.CancelExecution(context.Background(), "org-1", "exec-1")
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestReactivateUserRefusedAfter30Days(t *testing.T) {
	s, mock := newMockStore(t)

	old := sqlmock.NewRows([]string{"deactivated_at"}).
		AddRow(timePtr(t, "2020-01-01T00:00:00Z"))
	mock.ExpectQuery(`SELECT deactivated_at FROM users`).
		WithArgs("user-1").WillReturnRows(old)

	err := s.ReactivateUser(context.Background(), "user-1")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func timePtr(t *testing.T, rfc3339 string) *time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, rfc3339)
	require.NoError(t, err)
	return &ts
}
