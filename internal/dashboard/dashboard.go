// Package dashboard implements the monitoring endpoints summarizing chain runs.
package dashboard

import (
	"net/http"
	"time"

	"github.com/nadmax/gpcheck/internal/httputil"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/report"
)

type Dashboard struct {
	queue *queue.Queue
}

type Stats struct {
	TotalRuns       int            `json:"total_runs"`
	PendingRuns     int64          `json:"pending_runs"`
	SucceededRuns   int            `json:"succeeded_runs"`
	FailedRuns      int            `json:"failed_runs"`
	IncompleteRuns  int            `json:"incomplete_runs"`
	RunsByChain     map[string]int `json:"runs_by_chain"`
	FailuresByTask  map[string]int `json:"failures_by_task"`
	AverageDuration string         `json:"average_duration"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type RunHistory struct {
	RunID      string    `json:"run_id"`
	ChainID    string    `json:"chain_id"`
	Status     string    `json:"status"`
	FailedTask string    `json:"failed_task,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Duration   string    `json:"duration"`
}

func NewDashboard(q *queue.Queue) *Dashboard {
	return &Dashboard{queue: q}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	reports, err := d.queue.ListReports(0)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pending, err := d.queue.PendingCount()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		TotalRuns:      len(reports),
		PendingRuns:    pending,
		RunsByChain:    make(map[string]int),
		FailuresByTask: make(map[string]int),
		LastUpdated:    time.Now(),
	}

	var totalMs int64
	for _, rep := range reports {
		status := rep.Summarize()
		switch status.Kind {
		case report.StatusAllSucceeded:
			stats.SucceededRuns++
		case report.StatusFailedAt:
			stats.FailedRuns++
			stats.FailuresByTask[rep.ChainID()+"/"+status.TaskID]++
		case report.StatusIncomplete:
			stats.IncompleteRuns++
		}

		stats.RunsByChain[rep.ChainID()]++
		totalMs += rep.DurationMs()
	}

	if len(reports) > 0 {
		avg := time.Duration(totalMs/int64(len(reports))) * time.Millisecond
		stats.AverageDuration = avg.String()
	} else {
		stats.AverageDuration = "N/A"
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}

// GetRecentRuns lists the runs created in the last 24 hours, newest first.
func (d *Dashboard) GetRecentRuns(w http.ResponseWriter, r *http.Request) {
	reports, err := d.queue.ListReports(0)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	history := []RunHistory{}

	for _, rep := range reports {
		if rep.CreatedAt().Before(cutoff) {
			continue
		}

		status := rep.Summarize()
		history = append(history, RunHistory{
			RunID:      rep.RunID(),
			ChainID:    rep.ChainID(),
			Status:     string(status.Kind),
			FailedTask: status.TaskID,
			CreatedAt:  rep.CreatedAt(),
			Duration:   (time.Duration(rep.DurationMs()) * time.Millisecond).String(),
		})
	}

	httputil.WriteJSON(w, history, http.StatusOK)
}
