package repository

import (
	"context"

	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/repository/models"
)

type RunRepository interface {
	SaveRun(ctx context.Context, rep *report.RunReport, workerID string) error
	GetRecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetTaskHistory(ctx context.Context, chainID, taskID string, limit int) ([]models.TaskRun, error)
	GetChainStats(ctx context.Context, hours int) ([]models.ChainStats, error)
	Close() error
}

var (
	_ RunRepository = (*PostgresRunRepository)(nil)
	_ RunRepository = (*MockRunRepository)(nil)
)
