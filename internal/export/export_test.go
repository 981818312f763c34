package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	startTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	endTime   = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
)

func setupGenerator(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Generator) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	return db, mock, NewGenerator(db)
}

func chainSummaryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"chain_id", "total_runs", "succeeded", "failed", "incomplete",
		"avg_duration_ms", "max_duration_ms", "success_rate",
	}).
		AddRow("test_greenplum_simple", 24, 22, 2, 0, 140.4, 900, 91.67).
		AddRow("nightly", 1, 0, 1, 0, nil, nil, 0.0)
}

func TestChainSummary(t *testing.T) {
	db, mock, g := setupGenerator(t)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT\s+chain_id,.*FROM chain_runs WHERE created_at BETWEEN`).
		WithArgs(startTime, endTime).
		WillReturnRows(chainSummaryRows())

	data, err := g.Data(context.Background(), TypeChainSummary, startTime, endTime)

	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "Chain", data[0][0])
	assert.Equal(t, []string{"test_greenplum_simple", "24", "22", "2", "0", "140", "900", "91.67"}, data[1])
	assert.Equal(t, "0", data[2][5])
	assert.Equal(t, "0", data[2][6])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskFailures(t *testing.T) {
	db, mock, g := setupGenerator(t)
	defer func() { _ = db.Close() }()

	last := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"chain_id", "task_id", "error_kind", "error_code", "occurrences", "last_occurrence",
	}).
		AddRow("test_greenplum_simple", "test_cluster_info", "statement_error", "42501", 3, last).
		AddRow("test_greenplum_simple", "test_connection", "connection_error", "", 1, last)

	mock.ExpectQuery(`SELECT\s+t.chain_id,.*FROM task_runs t JOIN chain_runs c.*t.state = 'failed'`).
		WithArgs(startTime, endTime).
		WillReturnRows(rows)

	data, err := g.Data(context.Background(), TypeTaskFailures, startTime, endTime)

	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "SQLSTATE", data[0][3])
	assert.Equal(t, []string{"test_greenplum_simple", "test_cluster_info", "statement_error", "42501", "3", "2025-01-01 12:30:00"}, data[1])
	assert.Equal(t, "", data[2][3])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHourlyBreakdown(t *testing.T) {
	db, mock, g := setupGenerator(t)
	defer func() { _ = db.Close() }()

	hour := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"hour", "total_runs", "succeeded", "failed", "avg_duration_ms",
	}).
		AddRow(hour, 4, 3, 1, 150.0).
		AddRow(hour.Add(-time.Hour), 4, 4, 0, 120.0)

	mock.ExpectQuery(`SELECT\s+DATE_TRUNC\('hour', created_at\).*FROM chain_runs`).
		WithArgs(startTime, endTime).
		WillReturnRows(rows)

	data, err := g.Data(context.Background(), TypeHourlyBreakdown, startTime, endTime)

	require.NoError(t, err)
	assert.Len(t, data, 3)
	assert.Equal(t, "2025-01-01 12:00", data[1][0])
	assert.Equal(t, "2025-01-01 11:00", data[2][0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerPerformance(t *testing.T) {
	db, mock, g := setupGenerator(t)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{
		"worker_id", "runs_processed", "succeeded", "failed", "avg_duration_ms", "max_duration_ms",
	}).
		AddRow("worker-1", 15, 14, 1, 200.0, 1000)

	mock.ExpectQuery(`SELECT\s+worker_id,.*FROM chain_runs.*GROUP BY worker_id`).
		WithArgs(startTime, endTime).
		WillReturnRows(rows)

	data, err := g.Data(context.Background(), TypeWorkerPerformance, startTime, endTime)

	require.NoError(t, err)
	assert.Len(t, data, 2)
	assert.Equal(t, "Worker ID", data[0][0])
	assert.Equal(t, []string{"worker-1", "15", "14", "1", "200", "1000"}, data[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataErrors(t *testing.T) {
	db, mock, g := setupGenerator(t)
	defer func() { _ = db.Close() }()

	t.Run("unsupported type", func(t *testing.T) {
		_, err := g.Data(context.Background(), "retry_analysis", startTime, endTime)
		assert.True(t, errors.Is(err, ErrUnsupportedType))
	})

	t.Run("query failure", func(t *testing.T) {
		mock.ExpectQuery(`FROM chain_runs`).
			WillReturnError(errors.New(`relation "chain_runs" does not exist`))

		_, err := g.Data(context.Background(), TypeChainSummary, startTime, endTime)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan failure", func(t *testing.T) {
		mock.ExpectQuery(`FROM chain_runs`).
			WillReturnRows(sqlmock.NewRows([]string{"chain_id"}).AddRow("c"))

		_, err := g.Data(context.Background(), TypeChainSummary, startTime, endTime)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scan failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGenerate(t *testing.T) {
	t.Run("csv file", func(t *testing.T) {
		db, mock, g := setupGenerator(t)
		defer func() { _ = db.Close() }()

		dir := t.TempDir()
		mock.ExpectQuery(`FROM chain_runs`).
			WithArgs(startTime, endTime).
			WillReturnRows(chainSummaryRows())

		path, err := g.Generate(context.Background(), Request{
			ReportType: TypeChainSummary,
			StartTime:  "2025-01-01T00:00:00Z",
			EndTime:    "2025-01-02T00:00:00Z",
			OutputPath: dir,
		})
		require.NoError(t, err)
		assert.Equal(t, dir, filepath.Dir(path))
		assert.True(t, strings.HasPrefix(filepath.Base(path), "gpcheck_chain_summary_"))
		assert.True(t, strings.HasSuffix(path, ".csv"))

		file, err := os.Open(path)
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		records, err := csv.NewReader(file).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, 3)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("json file", func(t *testing.T) {
		db, mock, g := setupGenerator(t)
		defer func() { _ = db.Close() }()

		dir := t.TempDir()
		mock.ExpectQuery(`FROM chain_runs`).
			WillReturnRows(chainSummaryRows())

		path, err := g.Generate(context.Background(), Request{
			ReportType: TypeChainSummary,
			Format:     "json",
			OutputPath: dir,
		})
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		var out struct {
			Data      []map[string]string `json:"data"`
			TotalRows int                 `json:"total_rows"`
		}
		require.NoError(t, json.Unmarshal(content, &out))
		assert.Equal(t, 2, out.TotalRows)
		assert.Equal(t, "test_greenplum_simple", out.Data[0]["Chain"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing type", func(t *testing.T) {
		db, _, g := setupGenerator(t)
		defer func() { _ = db.Close() }()

		_, err := g.Generate(context.Background(), Request{})
		assert.Error(t, err)
	})

	t.Run("invalid time range", func(t *testing.T) {
		db, _, g := setupGenerator(t)
		defer func() { _ = db.Close() }()

		_, err := g.Generate(context.Background(), Request{ReportType: TypeChainSummary, StartTime: "yesterday"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid time range")

		_, err = g.Generate(context.Background(), Request{
			ReportType: TypeChainSummary,
			StartTime:  "2025-01-02T00:00:00Z",
			EndTime:    "2025-01-01T00:00:00Z",
		})
		assert.Error(t, err)
	})

	t.Run("unsupported format", func(t *testing.T) {
		db, mock, g := setupGenerator(t)
		defer func() { _ = db.Close() }()

		mock.ExpectQuery(`FROM chain_runs`).
			WillReturnRows(chainSummaryRows())

		_, err := g.Generate(context.Background(), Request{
			ReportType: TypeChainSummary,
			Format:     "xml",
			OutputPath: t.TempDir(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported format")
	})
}

func TestApplyDefaults(t *testing.T) {
	req := Request{ReportType: TypeTaskFailures}
	require.NoError(t, req.applyDefaults())

	assert.Equal(t, "csv", req.Format)
	assert.Equal(t, "./reports", req.OutputPath)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer

	err := WriteJSON(&buf, [][]string{{"Chain", "Total"}, {"c", "1"}, {"d"}})
	require.NoError(t, err)

	var out struct {
		Data      []map[string]string `json:"data"`
		TotalRows int                 `json:"total_rows"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out.TotalRows)
	assert.Equal(t, "1", out.Data[0]["Total"])
	assert.NotContains(t, out.Data[1], "Total")

	assert.Error(t, WriteJSON(&buf, nil))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteCSV(&buf, [][]string{{"Chain", "Error"}, {"c", "permission, denied"}}))
	assert.Equal(t, "Chain,Error\nc,\"permission, denied\"\n", buf.String())
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		name      string
		val       sql.NullFloat64
		precision int
		expected  string
	}{
		{
			name:      "valid float with 2 precision",
			val:       sql.NullFloat64{Float64: 123.456, Valid: true},
			precision: 2,
			expected:  "123.46",
		},
		{
			name:      "valid float with 0 precision",
			val:       sql.NullFloat64{Float64: 123.456, Valid: true},
			precision: 0,
			expected:  "123",
		},
		{
			name:      "null float",
			val:       sql.NullFloat64{Valid: false},
			precision: 2,
			expected:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatFloat(tt.val, tt.precision))
		})
	}
}

func TestFormatInt64(t *testing.T) {
	assert.Equal(t, "42", formatInt64(sql.NullInt64{Int64: 42, Valid: true}))
	assert.Equal(t, "0", formatInt64(sql.NullInt64{}))
}
