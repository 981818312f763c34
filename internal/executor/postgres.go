// Package executor issues probe statements against PostgreSQL-compatible
// clusters such as Greenplum.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/gpcheck/internal/connection"
	"github.com/nadmax/gpcheck/internal/task"
)

type OpenFunc func(dsn string) (*sql.DB, error)

// PostgresExecutor opens a dedicated session per statement and closes it
// when the statement finishes, so session-scoped objects such as temporary
// tables never outlive a task.
type PostgresExecutor struct {
	open             OpenFunc
	statementTimeout time.Duration
}

func NewPostgresExecutor(statementTimeout time.Duration) *PostgresExecutor {
	return &PostgresExecutor{
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
		statementTimeout: statementTimeout,
	}
}

func (e *PostgresExecutor) Execute(ctx context.Context, spec *connection.Spec, statement string) (*task.Rows, error) {
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}

	db, err := e.open(spec.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", task.ErrConnect, spec.Identifier, err)
	}

	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database handle for %s: %v", spec.Identifier, err)
		}
	}()

	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire session on %s: %w", task.ErrConnect, spec.Identifier, err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("failed to release session on %s: %v", spec.Identifier, err)
		}
	}()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to reach %s: %w", task.ErrConnect, spec.Identifier, err)
	}

	// No arguments keeps lib/pq on the simple query protocol, which accepts
	// multi-statement scripts.
	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	out, err := collect(rows)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}

	return out, nil
}

// withContextErr attaches ctx.Err() once the deadline or cancellation fired.
// lib/pq reports a cancelled query as SQLSTATE 57014, which on its own reads
// as a statement failure.
func withContextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// collect drains every result set and keeps the last one that had columns.
func collect(rows *sql.Rows) (*task.Rows, error) {
	out := &task.Rows{}

	for {
		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		var values [][]any
		for rows.Next() {
			row := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range row {
				ptrs[i] = &row[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}
			for i, v := range row {
				if b, ok := v.([]byte); ok {
					row[i] = string(b)
				}
			}
			values = append(values, row)
		}

		if err := rows.Err(); err != nil {
			return nil, err
		}

		if len(columns) > 0 {
			out.Columns = columns
			out.Values = values
		}

		if !rows.NextResultSet() {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
