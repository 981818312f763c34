package checks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/connection"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greenplumStub struct {
	denySegments bool
}

func (g *greenplumStub) Execute(_ context.Context, _ *connection.Spec, statement string) (*task.Rows, error) {
	switch {
	case strings.Contains(statement, "gp_segment_configuration"):
		if g.denySegments {
			return nil, &pq.Error{Code: "42501", Message: "permission denied for relation gp_segment_configuration"}
		}
		return &task.Rows{Columns: []string{"database", "user", "total_segments"}, Values: [][]any{{"postgres", "admin", int64(4)}}}, nil
	case strings.Contains(statement, "CREATE TEMP TABLE"):
		return &task.Rows{Columns: []string{"id", "value"}, Values: [][]any{{int64(1), "Test OK"}}}, nil
	default:
		return &task.Rows{Columns: []string{"status"}, Values: [][]any{{"Connection OK!"}}}, nil
	}
}

func TestGreenplumSimple(t *testing.T) {
	def, err := GreenplumSimple("")
	require.NoError(t, err)

	assert.Equal(t, GreenplumSimpleID, def.ID)
	assert.Equal(t, "Simple connection test", def.Description)
	assert.Equal(t, chain.TriggerManual, def.Trigger)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), def.StartDate)
	assert.Equal(t, []string{"test", "greenplum"}, def.Tags)
	assert.Equal(t, []string{TaskConnection, TaskClusterInfo, TaskPermissions}, def.TaskIDs())

	for _, ts := range def.Tasks {
		assert.Equal(t, DefaultConnection, ts.ConnectionID)
	}
}

func TestGreenplumSimple_CustomConnection(t *testing.T) {
	def, err := GreenplumSimple("greenplum_default")
	require.NoError(t, err)
	assert.Equal(t, "greenplum_default", def.Tasks[0].ConnectionID)
}

func TestGreenplumSimple_Run(t *testing.T) {
	def, err := GreenplumSimple("")
	require.NoError(t, err)
	resolver := connection.NewResolver(map[string]connection.Spec{DefaultConnection: {Host: "localhost", Port: 6432}})

	rep, err := def.NewRun().Run(context.Background(), resolver, &greenplumStub{})
	require.NoError(t, err)
	assert.Equal(t, report.AllSucceeded(), rep.Summarize())

	perms, _ := rep.Outcome(TaskPermissions)
	assert.Equal(t, "Test OK", perms.Result.Rows[0][1])

	rep, err = def.NewRun().Run(context.Background(), resolver, &greenplumStub{denySegments: true})
	require.NoError(t, err)
	assert.Equal(t, report.FailedAt(TaskClusterInfo), rep.Summarize())
}
