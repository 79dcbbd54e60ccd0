package reports

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

func TestSanitizeOrgID(t *testing.T) {
	assert.Equal(t, "a1b2-c3", sanitizeOrgID("a1b2-c3"))
	assert.Equal(t, "a_b_c", sanitizeOrgID("a/b:c"))
	assert.Equal(t, "org", sanitizeOrgID(""))
}

func TestWriteJSONReport(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM flows`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "name", "status", "is_deleted", "created_by", "created_at", "updated_at",
		}).AddRow("flow-1", "org-1", "Pay", "active", false, "user-1", now, now))
	mock.ExpectQuery(`SELECT .+ FROM integrations`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "name", "status", "test_url", "last_checked", "created_at",
		}).AddRow("integ-1", "org-1", "Stripe", "active", "", now, now))
	mock.ExpectQuery(`SELECT .+ FROM flow_executions`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "flow_id", "flow_version", "status", "trigger_type", "trigger_data",
			"started_at", "completed_at", "error_message", "execution_time_ms",
		}))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "failed", "avg"}).AddRow(12, 2, 84.5))

	dir := t.TempDir()
	g := New(dir, store.NewWithDB(db), nil)

	path, err := g.WriteJSON(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "org-1_"))
	assert.True(t, strings.HasSuffix(path, ".json"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "org-1", report.OrgID)
	assert.Len(t, report.Flows, 1)
	assert.Equal(t, 12, report.TxSummary.Total)
}

func TestWritePDFWithoutRenderer(t *testing.T) {
	g := New(t.TempDir(), nil, nil)
	_, err := g.WritePDF(context.Background(), "org-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
