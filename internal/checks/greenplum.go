// Package checks contains the built-in probe chains.
package checks

import (
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
)

const (
	GreenplumSimpleID = "test_greenplum_simple"
	DefaultConnection = "greenplum_prod"
	TaskConnection    = "test_connection"
	TaskClusterInfo   = "test_cluster_info"
	TaskPermissions   = "test_permissions"
)

const connectionSQL = `
SELECT
    'Connection OK!' as status,
    NOW() as current_time,
    version() as database_version;`

const clusterInfoSQL = `
SELECT
    current_database() as database,
    current_user as user,
    COUNT(*) as total_segments
FROM gp_segment_configuration
WHERE content >= 0;`

// The temp table lives only as long as the session, which the executor
// closes after the statement.
const permissionsSQL = `
CREATE TEMP TABLE test_table (id INT, value TEXT);
INSERT INTO test_table VALUES (1, 'Test OK');
SELECT * FROM test_table;`

// GreenplumSimple is the three-step smoke test: basic connectivity, cluster
// segment info, then write permissions through a temporary table.
func GreenplumSimple(connID string) (*chain.Definition, error) {
	if connID == "" {
		connID = DefaultConnection
	}

	return chain.NewBuilder(GreenplumSimpleID).
		Description("Simple connection test").
		Manual().
		StartDate(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).
		Tags("test", "greenplum").
		AddTask(TaskConnection, connID, connectionSQL).
		AddTask(TaskClusterInfo, connID, clusterInfoSQL).
		AddTask(TaskPermissions, connID, permissionsSQL).
		AddDependency(TaskConnection, TaskClusterInfo).
		AddDependency(TaskClusterInfo, TaskPermissions).
		Build()
}
