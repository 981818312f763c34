// Package export produces CSV and JSON reports from the run history tables.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	TypeChainSummary      = "chain_summary"
	TypeTaskFailures      = "task_failures"
	TypeHourlyBreakdown   = "hourly_breakdown"
	TypeWorkerPerformance = "worker_performance"
)

var ErrUnsupportedType = errors.New("unsupported report type")

type Request struct {
	ReportType string
	StartTime  string
	EndTime    string
	Format     string
	OutputPath string
}

type Generator struct {
	db *sql.DB
}

func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db}
}

func (r *Request) applyDefaults() error {
	if r.ReportType == "" {
		return errors.New("missing required field: report type")
	}
	if r.OutputPath == "" {
		r.OutputPath = "./reports"
	}
	if r.Format == "" {
		r.Format = "csv"
	}

	return nil
}

// Generate runs the requested report and writes it under OutputPath,
// returning the file name.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.applyDefaults(); err != nil {
		return "", err
	}

	startTime, endTime, err := parseTimeRange(req)
	if err != nil {
		return "", fmt.Errorf("invalid time range: %w", err)
	}

	log.Printf("Generating %s report (format: %s, period: %s to %s)",
		req.ReportType, req.Format, startTime.Format(time.RFC3339), endTime.Format(time.RFC3339))

	data, err := g.Data(ctx, req.ReportType, startTime, endTime)
	if err != nil {
		return "", err
	}

	outputFile, err := save(req, data)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	log.Printf("Report generated successfully: %s (%d rows)", outputFile, len(data)-1)
	return outputFile, nil
}

// Data returns the report table, header row first.
func (g *Generator) Data(ctx context.Context, reportType string, startTime, endTime time.Time) ([][]string, error) {
	var data [][]string
	var err error

	switch reportType {
	case TypeChainSummary:
		data, err = g.chainSummary(ctx, startTime, endTime)
	case TypeTaskFailures:
		data, err = g.taskFailures(ctx, startTime, endTime)
	case TypeHourlyBreakdown:
		data, err = g.hourlyBreakdown(ctx, startTime, endTime)
	case TypeWorkerPerformance:
		data, err = g.workerPerformance(ctx, startTime, endTime)
	default:
		return nil, fmt.Errorf("%w: %s (available: %s, %s, %s, %s)", ErrUnsupportedType, reportType,
			TypeChainSummary, TypeTaskFailures, TypeHourlyBreakdown, TypeWorkerPerformance)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	return data, nil
}

func parseTimeRange(req Request) (time.Time, time.Time, error) {
	var startTime, endTime time.Time
	var err error

	if req.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time format: %w", err)
		}
	} else {
		startTime = time.Now().Add(-24 * time.Hour)
	}

	if req.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time format: %w", err)
		}
	} else {
		endTime = time.Now()
	}

	if endTime.Before(startTime) {
		return time.Time{}, time.Time{}, errors.New("end time is before start time")
	}

	return startTime, endTime, nil
}

func (g *Generator) chainSummary(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			chain_id,
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE status = 'all_succeeded') as succeeded,
			COUNT(*) FILTER (WHERE status = 'failed_at') as failed,
			COUNT(*) FILTER (WHERE status = 'incomplete') as incomplete,
			AVG(duration_ms) as avg_duration_ms,
			MAX(duration_ms) as max_duration_ms,
			ROUND(100.0 * COUNT(*) FILTER (WHERE status = 'all_succeeded') / NULLIF(COUNT(*), 0), 2) as success_rate
		FROM chain_runs
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY chain_id
		ORDER BY total_runs DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	data := [][]string{
		{"Chain", "Total", "Succeeded", "Failed", "Incomplete", "Avg Duration (ms)", "Max Duration (ms)", "Success Rate (%)"},
	}

	for rows.Next() {
		var chainID string
		var total, succeeded, failed, incomplete int
		var avgDuration, successRate sql.NullFloat64
		var maxDuration sql.NullInt64

		err := rows.Scan(&chainID, &total, &succeeded, &failed, &incomplete, &avgDuration, &maxDuration, &successRate)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			chainID,
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%d", succeeded),
			fmt.Sprintf("%d", failed),
			fmt.Sprintf("%d", incomplete),
			formatFloat(avgDuration, 0),
			formatInt64(maxDuration),
			formatFloat(successRate, 2),
		})
	}

	return data, rows.Err()
}

func (g *Generator) taskFailures(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			t.chain_id,
			t.task_id,
			COALESCE(t.error_kind, 'unknown') as error_kind,
			COALESCE(t.error_code, '') as error_code,
			COUNT(*) as occurrences,
			MAX(c.created_at) as last_occurrence
		FROM task_runs t
		JOIN chain_runs c ON c.run_id = t.run_id
		WHERE c.created_at BETWEEN $1 AND $2
			AND t.state = 'failed'
		GROUP BY t.chain_id, t.task_id, COALESCE(t.error_kind, 'unknown'), COALESCE(t.error_code, '')
		ORDER BY occurrences DESC
		LIMIT 50
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	data := [][]string{
		{"Chain", "Task", "Error Kind", "SQLSTATE", "Occurrences", "Last Occurrence"},
	}

	for rows.Next() {
		var chainID, taskID, errorKind, errorCode string
		var occurrences int
		var lastOccurrence time.Time

		err := rows.Scan(&chainID, &taskID, &errorKind, &errorCode, &occurrences, &lastOccurrence)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			chainID,
			taskID,
			errorKind,
			errorCode,
			fmt.Sprintf("%d", occurrences),
			lastOccurrence.Format("2006-01-02 15:04:05"),
		})
	}

	return data, rows.Err()
}

func (g *Generator) hourlyBreakdown(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			DATE_TRUNC('hour', created_at) as hour,
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE status = 'all_succeeded') as succeeded,
			COUNT(*) FILTER (WHERE status = 'failed_at') as failed,
			AVG(duration_ms) as avg_duration_ms
		FROM chain_runs
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY DATE_TRUNC('hour', created_at)
		ORDER BY hour DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	data := [][]string{
		{"Hour", "Total Runs", "Succeeded", "Failed", "Avg Duration (ms)"},
	}

	for rows.Next() {
		var hour time.Time
		var total, succeeded, failed int
		var avgDuration sql.NullFloat64

		err := rows.Scan(&hour, &total, &succeeded, &failed, &avgDuration)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			hour.Format("2006-01-02 15:00"),
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%d", succeeded),
			fmt.Sprintf("%d", failed),
			formatFloat(avgDuration, 0),
		})
	}

	return data, rows.Err()
}

func (g *Generator) workerPerformance(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			worker_id,
			COUNT(*) as runs_processed,
			COUNT(*) FILTER (WHERE status = 'all_succeeded') as succeeded,
			COUNT(*) FILTER (WHERE status = 'failed_at') as failed,
			AVG(duration_ms) as avg_duration_ms,
			MAX(duration_ms) as max_duration_ms
		FROM chain_runs
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY worker_id
		ORDER BY runs_processed DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	data := [][]string{
		{"Worker ID", "Runs Processed", "Succeeded", "Failed", "Avg Duration (ms)", "Max Duration (ms)"},
	}

	for rows.Next() {
		var workerID string
		var processed, succeeded, failed int
		var avgDuration sql.NullFloat64
		var maxDuration sql.NullInt64

		err := rows.Scan(&workerID, &processed, &succeeded, &failed, &avgDuration, &maxDuration)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			workerID,
			fmt.Sprintf("%d", processed),
			fmt.Sprintf("%d", succeeded),
			fmt.Sprintf("%d", failed),
			formatFloat(avgDuration, 0),
			formatInt64(maxDuration),
		})
	}

	return data, rows.Err()
}

func formatFloat(val sql.NullFloat64, precision int) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%.*f", precision, val.Float64)
}

func formatInt64(val sql.NullInt64) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%d", val.Int64)
}

func save(req Request, data [][]string) (string, error) {
	if err := os.MkdirAll(req.OutputPath, 0755); err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("gpcheck_%s_%s.%s", req.ReportType, timestamp, req.Format)
	fullPath := filepath.Join(req.OutputPath, filename)

	var write func(io.Writer, [][]string) error
	switch req.Format {
	case "csv":
		write = WriteCSV
	case "json":
		write = WriteJSON
	default:
		return "", fmt.Errorf("unsupported format: %s", req.Format)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("failed to close file: %v", closeErr)
		}
	}()

	return fullPath, write(file, data)
}

func WriteCSV(w io.Writer, data [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	return writer.Error()
}

// WriteJSON writes the rows as objects keyed by the header row.
func WriteJSON(w io.Writer, data [][]string) error {
	if len(data) < 1 {
		return errors.New("missing header row")
	}

	headers := data[0]
	records := make([]map[string]string, 0, len(data)-1)
	for _, row := range data[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}

		records = append(records, record)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": time.Now().Format(time.RFC3339),
		"data":         records,
		"total_rows":   len(records),
	})
}
