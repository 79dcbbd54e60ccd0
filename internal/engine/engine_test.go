package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/config"
	"github.com/flowline/backend/internal/mail"
	"github.com/flowline/backend/internal/netguard"
	"github.com/flowline/backend/internal/providers"
	"github.com/flowline/backend/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	st := store.NewWithDB(db)
	reg := providers.NewRegistry()
	mailer := mail.NewSMTPMailer(config.SMTPConfig{})
	eng := New(st, reg, mailer, nil, config.EngineConfig{ShutdownGrace: time.Second})
	// Action targets in these tests are loopback httptest servers.
	eng.validateURL = func(string) error { return nil }
	return eng, mock
}

func expectFlowAndVersion(mock sqlmock.Sqlmock, graph string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT id, org_id, name, status, is_deleted.+FROM flows`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "name", "status", "is_deleted", "created_by", "created_at", "updated_at",
		}).AddRow("flow-1", "org-1", "Pay", "draft", false, "user-1", now, now))
	mock.ExpectQuery(`SELECT id, flow_id, version, graph.+FROM flow_versions`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "flow_id", "version", "graph", "variables", "created_at",
		}).AddRow("ver-1", "flow-1", 1, []byte(graph), []byte("null"), now))
	mock.ExpectExec(`INSERT INTO flow_executions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartExecutionHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	graph := fmt.Sprintf(`{
		"nodes": [
			{"id":"n1","type":"start"},
			{"id":"n2","type":"action","kind":"http","config":{"url":%q}},
			{"id":"n3","type":"end"}
		],
		"edges": [{"from":"n1","to":"n2"},{"from":"n2","to":"n3"}]
	}`, upstream.URL)

	eng, mock := newTestEngine(t)
	expectFlowAndVersion(mock, graph)

	// Three nodes: one status check, one step insert, one info log, and one
	// completion update each; then the terminal execution update.
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT status FROM flow_executions`).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
		mock.ExpectExec(`INSERT INTO execution_steps`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO execution_logs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE execution_steps\s+SET status = 'completed'`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`UPDATE flow_executions\s+SET status =`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := eng.StartExecution(context.Background(), "org-1", "flow-1", store.TriggerDeploy, json.RawMessage(`{"source":"deploy"}`))
	require.NoError(t, err)
	assert.Equal(t, "Pay", res.FlowName)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, store.ExecutionStatusRunning, res.Status)
	assert.NotEmpty(t, res.ExecutionID)

	waitForExpectations(t, mock)
	eng.Shutdown()
}

func TestCyclicGraphFailsBeforeAnyNode(t *testing.T) {
	graph := `{
		"nodes": [{"id":"a","type":"start"},{"id":"b","type":"transform"},{"id":"c","type":"transform"}],
		"edges": [{"from":"a","to":"b"},{"from":"b","to":"c"},{"from":"c","to":"b"}]
	}`

	eng, mock := newTestEngine(t)
	expectFlowAndVersion(mock, graph)

	// One error log and the failed terminal update; no step inserts.
	mock.ExpectExec(`INSERT INTO execution_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE flow_executions\s+SET status =`).
		WithArgs(store.ExecutionStatusFailed, "cycle or disconnected node", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := eng.StartExecution(context.Background(), "org-1", "flow-1", store.TriggerManual, nil)
	require.NoError(t, err)

	waitForExpectations(t, mock)
	eng.Shutdown()
}

func TestNodeFailureIsFailFast(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // refuse connections: transport error, fatal to the step

	graph := fmt.Sprintf(`{
		"nodes": [
			{"id":"n1","type":"start"},
			{"id":"n2","type":"action","kind":"http","config":{"url":%q}},
			{"id":"n3","type":"end"}
		],
		"edges": [{"from":"n1","to":"n2"},{"from":"n2","to":"n3"}]
	}`, upstream.URL)

	eng, mock := newTestEngine(t)
	expectFlowAndVersion(mock, graph)

	// n1 completes.
	mock.ExpectQuery(`SELECT status FROM flow_executions`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
	mock.ExpectExec(`INSERT INTO execution_steps`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO execution_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE execution_steps\s+SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// n2 starts, fails, and the execution goes terminal. n3 never runs.
	mock.ExpectQuery(`SELECT status FROM flow_executions`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
	mock.ExpectExec(`INSERT INTO execution_steps`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO execution_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE execution_steps\s+SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO execution_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE flow_executions\s+SET status =`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := eng.StartExecution(context.Background(), "org-1", "flow-1", store.TriggerManual, nil)
	require.NoError(t, err)

	waitForExpectations(t, mock)
	eng.Shutdown()
}

func TestCancelledExecutionHaltsBetweenNodes(t *testing.T) {
	graph := `{
		"nodes": [{"id":"a","type":"start"},{"id":"b","type":"end"}],
		"edges": [{"from":"a","to":"b"}]
	}`

	eng, mock := newTestEngine(t)
	expectFlowAndVersion(mock, graph)

	// The status check observes the cancel before the first node.
	mock.ExpectQuery(`SELECT status FROM flow_executions`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectExec(`INSERT INTO execution_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := eng.StartExecution(context.Background(), "org-1", "flow-1", store.TriggerManual, nil)
	require.NoError(t, err)

	waitForExpectations(t, mock)
	eng.Shutdown()
}

func TestStartExecutionUnknownFlow(t *testing.T) {
	eng, mock := newTestEngine(t)
	mock.ExpectQuery(`SELECT id, org_id, name, status, is_deleted.+FROM flows`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := eng.StartExecution(context.Background(), "org-1", "missing", store.TriggerManual, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHTTPActionBlocksPrivateHosts(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.validateURL = netguard.CheckURL
	n := &Node{
		ID:     "n1",
		Type:   NodeAction,
		Kind:   KindHTTP,
		Config: json.RawMessage(`{"url":"http://169.254.169.254/latest/meta-data/"}`),
	}
	_, err := eng.runHTTPAction(context.Background(), n)
	require.Error(t, err)
}

func TestHTTPActionNon2xxIsData(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer upstream.Close()

	eng, _ := newTestEngine(t)
	n := &Node{
		ID:     "n1",
		Type:   NodeAction,
		Kind:   KindHTTP,
		Config: json.RawMessage(fmt.Sprintf(`{"url":%q}`, upstream.URL)),
	}
	out, err := eng.runHTTPAction(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, out["status"])
	assert.Equal(t, "upstream exploded", out["error"])
}

func TestUnrecognizedActionFailsStep(t *testing.T) {
	eng, _ := newTestEngine(t)
	n := &Node{ID: "n1", Type: NodeAction, Kind: "carrier-pigeon"}
	_, err := eng.runAction(context.Background(), "org-1", n, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized action")
}
