package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/source"
	"github.com/valter-silva-au/taskview/pkg/models"
)

func withSession(t *testing.T, recs []models.TaskRecord) *engine.Session {
	t.Helper()
	orig := Session
	s := engine.NewSession(source.NewStore(recs), models.DefaultConfig())
	Session = s
	t.Cleanup(func() {
		Session = orig
		s.Close()
	})
	return s
}

func runQuery(t *testing.T, offset, limit int, jsonOut bool, args ...string) (string, error) {
	t.Helper()
	origOffset, origLimit, origJSON := queryOffset, queryLimit, queryJSON
	defer func() { queryOffset, queryLimit, queryJSON = origOffset, origLimit, origJSON }()
	queryOffset, queryLimit, queryJSON = offset, limit, jsonOut

	var buf bytes.Buffer
	queryCmd.SetOut(&buf)
	queryCmd.SetContext(context.Background())
	defer queryCmd.SetOut(nil)
	err := queryCmd.RunE(queryCmd, args)
	return buf.String(), err
}

func TestQueryCmd_NoSession(t *testing.T) {
	orig := Session
	defer func() { Session = orig }()
	Session = nil

	_, err := runQuery(t, 0, 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestQueryCmd_Table(t *testing.T) {
	withSession(t, viewFixture(30))

	out, err := runQuery(t, 5, 10, false, "status:pending")
	require.NoError(t, err)
	assert.Contains(t, out, "6-15 of 20")
	assert.Contains(t, out, "DESCRIPTION")
}

func TestQueryCmd_JSONPage(t *testing.T) {
	withSession(t, viewFixture(30))

	out, err := runQuery(t, 2, 3, true, "project:work", "sort:id")
	require.NoError(t, err)

	var got queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 30, got.Total)
	assert.Equal(t, 2, got.Offset)
	require.Len(t, got.Tasks, 3)
	assert.Equal(t, "T02", got.Tasks[0].ID)
	assert.Equal(t, "T04", got.Tasks[2].ID)
	assert.Len(t, got.Fingerprint, 64)
	assert.Equal(t, uint64(1), got.Version)
}

func TestQueryCmd_OffsetClamped(t *testing.T) {
	withSession(t, viewFixture(30))

	out, err := runQuery(t, 1000, 10, true)
	require.NoError(t, err)

	var got queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 20, got.Offset)
	assert.Len(t, got.Tasks, 10)
}

func TestQueryCmd_ParseError(t *testing.T) {
	withSession(t, viewFixture(3))

	_, err := runQuery(t, 0, 10, false, "status:pending", "or")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluating filter")
}

func TestQueryCmd_NoMatches(t *testing.T) {
	withSession(t, viewFixture(3))

	out, err := runQuery(t, 0, 10, false, "project:nowhere")
	require.NoError(t, err)
	assert.Contains(t, out, "no matching tasks")
	assert.NotContains(t, out, " of ")
}

func TestExplain_EquivalentFilters(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	a, err := explain("status:pending +urgent", now)
	require.NoError(t, err)
	b, err := explain("STATUS:Pending   tag:urgent", now)
	require.NoError(t, err)

	assert.Equal(t, a.Canonical, b.Canonical)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Source, b.Source)
	assert.Equal(t, "urgency desc", a.Sort)
	assert.True(t, a.Valid)
}

func TestExplain_ValidationReported(t *testing.T) {
	out, err := explain("due:someday", time.Now())
	require.NoError(t, err)
	assert.False(t, out.Valid)
	assert.Contains(t, out.Error, "due")
}

func TestExplain_ParseError(t *testing.T) {
	_, err := explain("(status:pending", time.Now())
	require.Error(t, err)
}

func TestExplainCmd_Output(t *testing.T) {
	var buf bytes.Buffer
	explainCmd.SetOut(&buf)
	defer explainCmd.SetOut(nil)

	require.NoError(t, explainCmd.RunE(explainCmd, []string{"+work", "sort:due"}))
	out := buf.String()
	assert.Contains(t, out, "Canonical:")
	assert.Contains(t, out, "due asc")
	assert.Contains(t, out, "Valid:         yes")
}

func TestSeedTasks_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	total, err := seedTasks(context.Background(), models.SourceYAML, path, 25, 7, base)
	require.NoError(t, err)
	assert.Equal(t, 25, total)

	f, err := source.OpenYAML(path, nil)
	require.NoError(t, err)
	snap := f.Snapshot()
	assert.Equal(t, 25, snap.Len())

	want := source.Synthetic(25, 7, base)
	got, ok := snap.Lookup(want[3].ID)
	require.True(t, ok)
	assert.Equal(t, want[3].Description, got.Description)
}

func TestSeedTasks_SQLiteUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	total, err := seedTasks(ctx, models.SourceSQLite, path, 10, 1, base)
	require.NoError(t, err)
	assert.Equal(t, 10, total)

	// Same ids again plus five new ones.
	total, err = seedTasks(ctx, models.SourceSQLite, path, 15, 1, base)
	require.NoError(t, err)
	assert.Equal(t, 15, total)
}

func TestSeedTasks_UnknownKind(t *testing.T) {
	_, err := seedTasks(context.Background(), "csv", "x", 1, 1, time.Now())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown source kind"))
}
