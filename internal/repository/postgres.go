// Package repository provides PostgreSQL persistence for run history.
// Only per-task status is kept; row results stay in the report store.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/repository/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS chain_runs (
	run_id      TEXT PRIMARY KEY,
	chain_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	failed_task TEXT,
	worker_id   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_runs (
	run_id        TEXT NOT NULL REFERENCES chain_runs (run_id) ON DELETE CASCADE,
	chain_id      TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	position      INT NOT NULL,
	state         TEXT NOT NULL,
	skipped       BOOLEAN NOT NULL DEFAULT FALSE,
	error_kind    TEXT,
	error_code    TEXT,
	error_message TEXT,
	row_count     INT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ,
	duration_ms   BIGINT,
	PRIMARY KEY (run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_chain_runs_created_at ON chain_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_runs_chain_task ON task_runs (chain_id, task_id);
`

type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(connectionString string) (*PostgresRunRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRunRepository{db: db}, nil
}

func (r *PostgresRunRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate run history schema: %w", err)
	}

	return nil
}

func (r *PostgresRunRepository) SaveRun(ctx context.Context, rep *report.RunReport, workerID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("failed to roll back run %s: %v", rep.RunID(), err)
		}
	}()

	status := rep.Summarize()
	var failedTask any
	if status.Kind == report.StatusFailedAt {
		failedTask = status.TaskID
	}

	runQuery := `
		INSERT INTO chain_runs (
			run_id, chain_id, status, failed_task,
			worker_id, created_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			failed_task = EXCLUDED.failed_task,
			duration_ms = EXCLUDED.duration_ms
	`
	if _, err := tx.ExecContext(
		ctx,
		runQuery,
		rep.RunID(),
		rep.ChainID(),
		string(status.Kind),
		failedTask,
		workerID,
		rep.CreatedAt(),
		rep.DurationMs(),
	); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rep.RunID(), err)
	}

	taskQuery := `
		INSERT INTO task_runs (
			run_id, chain_id, task_id, position, state, skipped,
			error_kind, error_code, error_message, row_count,
			started_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, task_id) DO UPDATE SET
			state = EXCLUDED.state,
			skipped = EXCLUDED.skipped,
			error_kind = EXCLUDED.error_kind,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			row_count = EXCLUDED.row_count,
			started_at = EXCLUDED.started_at,
			duration_ms = EXCLUDED.duration_ms
	`
	for i, o := range rep.Outcomes() {
		var errKind, errCode, errMsg, startedAt, durationMs any
		rowCount := 0
		if o.Result != nil {
			rowCount = o.Result.RowCount
			durationMs = o.Result.DurationMs
			if o.Result.StartedAt != nil {
				startedAt = *o.Result.StartedAt
			}
			if e := o.Result.Error; e != nil {
				errKind = string(e.Kind)
				errMsg = e.Message
				if e.Code != "" {
					errCode = e.Code
				}
			}
		}

		if _, err := tx.ExecContext(
			ctx,
			taskQuery,
			rep.RunID(),
			rep.ChainID(),
			o.TaskID,
			i,
			string(o.State),
			o.Skipped,
			errKind,
			errCode,
			errMsg,
			rowCount,
			startedAt,
			durationMs,
		); err != nil {
			return fmt.Errorf("failed to save task %s of run %s: %w", o.TaskID, rep.RunID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", rep.RunID(), err)
	}

	return nil
}

func (r *PostgresRunRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := `
		SELECT
			run_id, chain_id, status, COALESCE(failed_task, ''),
			worker_id, created_at, duration_ms
		FROM chain_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var runs []models.RunSummary
	for rows.Next() {
		var s models.RunSummary
		if err := rows.Scan(
			&s.RunID,
			&s.ChainID,
			&s.Status,
			&s.FailedTask,
			&s.WorkerID,
			&s.CreatedAt,
			&s.DurationMs,
		); err != nil {
			return nil, err
		}

		runs = append(runs, s)
	}

	return runs, rows.Err()
}

func (r *PostgresRunRepository) GetTaskHistory(ctx context.Context, chainID, taskID string, limit int) ([]models.TaskRun, error) {
	query := `
		SELECT
			t.run_id, t.chain_id, t.task_id, t.position, t.state, t.skipped,
			t.error_kind, t.error_code, t.error_message, t.row_count,
			t.started_at, t.duration_ms
		FROM task_runs t
		JOIN chain_runs c ON c.run_id = t.run_id
		WHERE t.chain_id = $1 AND t.task_id = $2
		ORDER BY c.created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, chainID, taskID, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var history []models.TaskRun
	for rows.Next() {
		var tr models.TaskRun
		var errKind, errCode, errMsg sql.NullString
		var startedAt sql.NullTime
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&tr.RunID,
			&tr.ChainID,
			&tr.TaskID,
			&tr.Position,
			&tr.State,
			&tr.Skipped,
			&errKind,
			&errCode,
			&errMsg,
			&tr.RowCount,
			&startedAt,
			&durationMs,
		); err != nil {
			return nil, err
		}

		tr.ErrorKind = errKind.String
		tr.ErrorCode = errCode.String
		tr.ErrorMsg = errMsg.String
		if startedAt.Valid {
			tr.StartedAt = &startedAt.Time
		}
		if durationMs.Valid {
			tr.DurationMs = &durationMs.Int64
		}

		history = append(history, tr)
	}

	return history, rows.Err()
}

func (r *PostgresRunRepository) GetChainStats(ctx context.Context, hours int) ([]models.ChainStats, error) {
	query := `
		SELECT
			chain_id, status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(MIN(duration_ms), 0) as min_duration_ms
		FROM chain_runs
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY chain_id, status
		ORDER BY chain_id, status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var stats []models.ChainStats
	for rows.Next() {
		var s models.ChainStats
		if err := rows.Scan(
			&s.ChainID,
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.MinDurationMs,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresRunRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresRunRepository) Close() error {
	return r.db.Close()
}
