package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/nadmax/gpcheck/internal/connection"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor fails the statements listed in failures and returns a
// single row for everything else.
type scriptedExecutor struct {
	failures map[string]error
	calls    []string
}

func (s *scriptedExecutor) Execute(_ context.Context, _ *connection.Spec, statement string) (*task.Rows, error) {
	s.calls = append(s.calls, statement)
	if err, ok := s.failures[statement]; ok {
		return nil, err
	}
	return &task.Rows{Columns: []string{"result"}, Values: [][]any{{statement}}}, nil
}

type transition struct {
	taskID   string
	from, to string
}

type recordingObserver struct {
	tasks  []transition
	chains []transition
}

func (r *recordingObserver) TaskTransition(_ string, taskID string, from, to task.State) {
	r.tasks = append(r.tasks, transition{taskID, string(from), string(to)})
}

func (r *recordingObserver) ChainTransition(_ string, from, to State) {
	r.chains = append(r.chains, transition{"", string(from), string(to)})
}

func (r *recordingObserver) started(taskID string) bool {
	for _, tr := range r.tasks {
		if tr.taskID == taskID && tr.to == string(task.StateRunning) {
			return true
		}
	}
	return false
}

func resolver() *connection.Resolver {
	return connection.NewResolver(map[string]connection.Spec{
		"greenplum_prod": {Host: "localhost", Port: 6432, Database: "postgres", Login: "admin", Secret: "pw"},
	})
}

func threeTaskChain(t *testing.T, connID string) *Definition {
	def, err := NewBuilder("test_greenplum_simple").
		Description("Simple connection test").
		Tags("test", "greenplum").
		AddTask("test_connection", connID, "q1").
		AddTask("test_cluster_info", connID, "q2").
		AddTask("test_permissions", connID, "q3").
		AddDependency("test_connection", "test_cluster_info").
		AddDependency("test_cluster_info", "test_permissions").
		Build()
	require.NoError(t, err)
	return def
}

func TestRun_AllSucceeded(t *testing.T) {
	exec := &scriptedExecutor{}
	obs := &recordingObserver{}
	c := threeTaskChain(t, "greenplum_prod").NewRun().SetObserver(obs)

	rep, err := c.Run(context.Background(), resolver(), exec)
	require.NoError(t, err)

	assert.Equal(t, report.AllSucceeded(), rep.Summarize())
	assert.True(t, rep.Sealed())
	assert.Equal(t, StateCompletedSuccess, c.State())
	assert.Equal(t, []string{"q1", "q2", "q3"}, exec.calls)

	outcomes := rep.Outcomes()
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, task.StateSucceeded, o.State)
		require.NotNil(t, o.Result)
		assert.Equal(t, 1, o.Result.RowCount)
	}

	assert.Equal(t, []transition{
		{"", string(StateNotStarted), string(StateRunning)},
		{"", string(StateRunning), string(StateCompletedSuccess)},
	}, obs.chains)
	assert.Len(t, obs.tasks, 6)
}

func TestRun_ConnectionErrorAtFirstTask(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	exec := &scriptedExecutor{failures: map[string]error{
		"q1": fmt.Errorf("%w: %w", task.ErrConnect, dialErr),
	}}
	obs := &recordingObserver{}
	c := threeTaskChain(t, "greenplum_prod").NewRun().SetObserver(obs)

	rep, err := c.Run(context.Background(), resolver(), exec)
	require.NoError(t, err)

	assert.Equal(t, report.FailedAt("test_connection"), rep.Summarize())
	assert.Equal(t, StateCompletedFailure, c.State())

	first, _ := rep.Outcome("test_connection")
	assert.Equal(t, task.StateFailed, first.State)
	assert.Equal(t, task.KindConnection, first.Result.Error.Kind)

	for _, id := range []string{"test_cluster_info", "test_permissions"} {
		o, _ := rep.Outcome(id)
		assert.Equal(t, task.StatePending, o.State)
		assert.True(t, o.Skipped)
		assert.False(t, obs.started(id))
	}

	for _, tsk := range c.Tasks()[1:] {
		assert.Equal(t, task.StatePending, tsk.State())
	}
	assert.Equal(t, []string{"q1"}, exec.calls)
}

func TestRun_StatementErrorAtSecondTask(t *testing.T) {
	exec := &scriptedExecutor{failures: map[string]error{
		"q2": &pq.Error{Code: "42501", Message: "permission denied for relation gp_segment_configuration"},
	}}
	c := threeTaskChain(t, "greenplum_prod").NewRun()

	rep, err := c.Run(context.Background(), resolver(), exec)
	require.NoError(t, err)

	assert.Equal(t, report.FailedAt("test_cluster_info"), rep.Summarize())

	first, _ := rep.Outcome("test_connection")
	assert.Equal(t, task.StateSucceeded, first.State)
	assert.Equal(t, [][]any{{"q1"}}, first.Result.Rows)

	second, _ := rep.Outcome("test_cluster_info")
	assert.Equal(t, task.KindStatement, second.Result.Error.Kind)
	assert.Equal(t, "42501", second.Result.Error.Code)

	third, _ := rep.Outcome("test_permissions")
	assert.Equal(t, task.StatePending, third.State)
	assert.True(t, third.Skipped)
}

func TestRun_UnknownConnection(t *testing.T) {
	exec := &scriptedExecutor{}
	c := threeTaskChain(t, "greenplum_default").NewRun()

	rep, err := c.Run(context.Background(), resolver(), exec)
	require.NoError(t, err)

	assert.Equal(t, report.FailedAt("test_connection"), rep.Summarize())
	assert.Empty(t, exec.calls, "no SQL may be issued")

	first, _ := rep.Outcome("test_connection")
	assert.Equal(t, task.KindUnknownConnection, first.Result.Error.Kind)

	for _, id := range []string{"test_cluster_info", "test_permissions"} {
		o, _ := rep.Outcome(id)
		assert.Equal(t, task.StatePending, o.State)
	}
}

func TestRun_FailureAtAnyPosition(t *testing.T) {
	const n = 6
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("fail at %d of %d", k, n), func(t *testing.T) {
			b := NewBuilder("chain")
			for i := 1; i <= n; i++ {
				b.AddTask(fmt.Sprintf("t%d", i), "greenplum_prod", fmt.Sprintf("q%d", i))
			}
			def, err := b.Build()
			require.NoError(t, err)

			exec := &scriptedExecutor{failures: map[string]error{
				fmt.Sprintf("q%d", k): errors.New("boom"),
			}}
			obs := &recordingObserver{}
			rep, err := def.NewRun().SetObserver(obs).Run(context.Background(), resolver(), exec)
			require.NoError(t, err)

			assert.Equal(t, report.FailedAt(fmt.Sprintf("t%d", k)), rep.Summarize())
			assert.Len(t, exec.calls, k)
			for i := k + 1; i <= n; i++ {
				id := fmt.Sprintf("t%d", i)
				o, _ := rep.Outcome(id)
				assert.Equal(t, task.StatePending, o.State)
				assert.False(t, obs.started(id))
			}
		})
	}
}

func TestRun_NoReentry(t *testing.T) {
	c := threeTaskChain(t, "greenplum_prod").NewRun()

	_, err := c.Run(context.Background(), resolver(), &scriptedExecutor{})
	require.NoError(t, err)

	rep, err := c.Run(context.Background(), resolver(), &scriptedExecutor{})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRun_FreshRunsAreIndependent(t *testing.T) {
	def := threeTaskChain(t, "greenplum_prod")

	failing := &scriptedExecutor{failures: map[string]error{"q3": errors.New("relation already exists")}}
	first, err := def.NewRun().Run(context.Background(), resolver(), failing)
	require.NoError(t, err)
	assert.Equal(t, report.FailedAt("test_permissions"), first.Summarize())

	second, err := def.NewRun().Run(context.Background(), resolver(), &scriptedExecutor{})
	require.NoError(t, err)
	third, err := def.NewRun().Run(context.Background(), resolver(), &scriptedExecutor{})
	require.NoError(t, err)

	assert.Equal(t, report.AllSucceeded(), second.Summarize())
	assert.Equal(t, second.Summarize(), third.Summarize())
	assert.NotEqual(t, second.RunID(), third.RunID())
}

func TestNewRunWithID(t *testing.T) {
	def := threeTaskChain(t, "greenplum_prod")
	c := def.NewRunWithID("run-42")

	assert.Equal(t, "run-42", c.RunID())
	assert.Equal(t, StateNotStarted, c.State())
	assert.Same(t, def, c.Definition())
	assert.Len(t, c.Tasks(), 3)
}

func TestSetObserverNil(t *testing.T) {
	c := threeTaskChain(t, "greenplum_prod").NewRun().SetObserver(nil)

	_, err := c.Run(context.Background(), resolver(), &scriptedExecutor{})
	assert.NoError(t, err)
}
