package repository

import (
	"context"
	"sync"

	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/repository/models"
)

// MockRunRepository keeps run history in memory and records calls.
type MockRunRepository struct {
	mu                  sync.Mutex
	SaveRunCalls        []SaveRunCall
	Runs                map[string]models.RunSummary
	TaskRuns            []models.TaskRun
	ChainStats          []models.ChainStats
	SaveRunError        error
	GetRecentRunsError  error
	GetTaskHistoryError error
	GetChainStatsError  error
	closed              bool
}

type SaveRunCall struct {
	RunID    string
	ChainID  string
	Status   report.Status
	WorkerID string
}

func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		Runs:       make(map[string]models.RunSummary),
		TaskRuns:   make([]models.TaskRun, 0),
		ChainStats: make([]models.ChainStats, 0),
	}
}

func (m *MockRunRepository) SaveRun(ctx context.Context, rep *report.RunReport, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := rep.Summarize()
	m.SaveRunCalls = append(m.SaveRunCalls, SaveRunCall{
		RunID:    rep.RunID(),
		ChainID:  rep.ChainID(),
		Status:   status,
		WorkerID: workerID,
	})

	if m.SaveRunError != nil {
		return m.SaveRunError
	}

	m.Runs[rep.RunID()] = models.RunSummary{
		RunID:      rep.RunID(),
		ChainID:    rep.ChainID(),
		Status:     string(status.Kind),
		FailedTask: status.TaskID,
		WorkerID:   workerID,
		CreatedAt:  rep.CreatedAt(),
		DurationMs: rep.DurationMs(),
	}

	for i, o := range rep.Outcomes() {
		tr := models.TaskRun{
			RunID:    rep.RunID(),
			ChainID:  rep.ChainID(),
			TaskID:   o.TaskID,
			Position: i,
			State:    string(o.State),
			Skipped:  o.Skipped,
		}
		if o.Result != nil {
			d := o.Result.DurationMs
			tr.RowCount = o.Result.RowCount
			tr.StartedAt = o.Result.StartedAt
			tr.DurationMs = &d
			if o.Result.Error != nil {
				tr.ErrorKind = string(o.Result.Error.Kind)
				tr.ErrorCode = o.Result.Error.Code
				tr.ErrorMsg = o.Result.Error.Message
			}
		}
		m.TaskRuns = append(m.TaskRuns, tr)
	}

	return nil
}

func (m *MockRunRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRecentRunsError != nil {
		return nil, m.GetRecentRunsError
	}

	runs := make([]models.RunSummary, 0, len(m.Runs))
	for _, r := range m.Runs {
		runs = append(runs, r)
		if limit > 0 && len(runs) >= limit {
			break
		}
	}

	return runs, nil
}

func (m *MockRunRepository) GetTaskHistory(ctx context.Context, chainID, taskID string, limit int) ([]models.TaskRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTaskHistoryError != nil {
		return nil, m.GetTaskHistoryError
	}

	history := make([]models.TaskRun, 0)
	for i := len(m.TaskRuns) - 1; i >= 0; i-- {
		tr := m.TaskRuns[i]
		if tr.ChainID != chainID || tr.TaskID != taskID {
			continue
		}
		history = append(history, tr)
		if limit > 0 && len(history) >= limit {
			break
		}
	}

	return history, nil
}

func (m *MockRunRepository) GetChainStats(ctx context.Context, hours int) ([]models.ChainStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetChainStatsError != nil {
		return nil, m.GetChainStatsError
	}

	return m.ChainStats, nil
}

func (m *MockRunRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *MockRunRepository) GetSaveRunCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveRunCalls)
}

func (m *MockRunRepository) WasRunSaved(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.Runs[runID]
	return ok
}

func (m *MockRunRepository) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *MockRunRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalls = nil
	m.Runs = make(map[string]models.RunSummary)
	m.TaskRuns = make([]models.TaskRun, 0)
	m.ChainStats = make([]models.ChainStats, 0)
	m.SaveRunError = nil
	m.GetRecentRunsError = nil
	m.GetTaskHistoryError = nil
	m.GetChainStatsError = nil
	m.closed = false
}
