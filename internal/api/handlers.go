package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/dashboard"
	"github.com/nadmax/gpcheck/internal/httputil"
	"github.com/nadmax/gpcheck/internal/metrics"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/registry"
	"github.com/nadmax/gpcheck/internal/report"
)

const (
	defaultRunLimit     = 50
	defaultHistoryLimit = 20
	defaultStatsHours   = 24
)

type API struct {
	queue    *queue.Queue
	registry *registry.Registry
	mux      *http.ServeMux
}

type ChainInfo struct {
	*chain.Definition
	NextRun *time.Time `json:"next_run,omitempty"`
}

type RunAccepted struct {
	RunID   string        `json:"run_id"`
	ChainID string        `json:"chain_id"`
	Trigger chain.Trigger `json:"trigger"`
}

func NewAPI(q *queue.Queue, reg *registry.Registry) *API {
	api := &API{
		queue:    q,
		registry: reg,
		mux:      http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/health", a.handleHealth)

	a.mux.HandleFunc("/api/chains", a.handleChains)
	a.mux.HandleFunc("/api/chains/", a.handleChainByID)
	a.mux.HandleFunc("/api/runs", a.handleRuns)
	a.mux.HandleFunc("/api/runs/", a.handleRunByID)
	a.mux.HandleFunc("/api/history/runs", a.handleRecentRuns)
	a.mux.HandleFunc("/api/history/stats", a.handleChainStats)

	dash := dashboard.NewDashboard(a.queue)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentRuns)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (a *API) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defs := a.registry.List()
	chains := make([]ChainInfo, 0, len(defs))
	for _, def := range defs {
		chains = append(chains, a.chainInfo(def))
	}

	httputil.WriteJSON(w, chains, http.StatusOK)
}

// handleChainByID serves /api/chains/{id}, /api/chains/{id}/runs and
// /api/chains/{id}/tasks/{task}/history.
func (a *API) handleChainByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/chains/"), "/")
	if parts[0] == "" {
		httputil.WriteJSONError(w, "Chain ID is required", http.StatusBadRequest)
		return
	}

	def, err := a.registry.Get(parts[0])
	if err != nil {
		httputil.WriteJSONError(w, "Chain not found", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		httputil.WriteJSON(w, a.chainInfo(def), http.StatusOK)
	case len(parts) == 2 && parts[1] == "runs":
		switch r.Method {
		case http.MethodPost:
			a.triggerRun(w, def)
		case http.MethodGet:
			a.listChainRuns(w, r, def)
		default:
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "history":
		if r.Method != http.MethodGet {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.taskHistory(w, r, def, parts[2])
	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

func (a *API) chainInfo(def *chain.Definition) ChainInfo {
	info := ChainInfo{Definition: def}
	if next, ok := a.registry.NextRun(def, time.Now()); ok {
		info.NextRun = &next
	}

	return info
}

func (a *API) triggerRun(w http.ResponseWriter, def *chain.Definition) {
	req := queue.NewRunRequest(def.ID, chain.TriggerManual)
	if err := a.queue.Enqueue(req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RecordRunEnqueued(def.ID, chain.TriggerManual)
	log.Printf("Run %s of chain %s enqueued", req.RunID, def.ID)

	httputil.WriteJSON(w, RunAccepted{
		RunID:   req.RunID,
		ChainID: def.ID,
		Trigger: req.Trigger,
	}, http.StatusAccepted)
}

func (a *API) listChainRuns(w http.ResponseWriter, r *http.Request, def *chain.Definition) {
	limit, err := queryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	reports, err := a.queue.ListReports(0)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runs := []*report.RunReport{}
	for _, rep := range reports {
		if rep.ChainID() != def.ID {
			continue
		}
		runs = append(runs, rep)
		if len(runs) >= limit {
			break
		}
	}

	httputil.WriteJSON(w, runs, http.StatusOK)
}

func (a *API) taskHistory(w http.ResponseWriter, r *http.Request, def *chain.Definition, taskID string) {
	known := false
	for _, id := range def.TaskIDs() {
		if id == taskID {
			known = true
			break
		}
	}
	if !known {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	repo := a.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "Run history is not configured", http.StatusServiceUnavailable)
		return
	}

	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := repo.GetTaskHistory(r.Context(), def.ID, taskID, limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, history, http.StatusOK)
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := queryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	reports, err := a.queue.ListReports(limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, reports, http.StatusOK)
}

// handleRunByID returns the sealed report of a finished run, or the live
// status of a run that is still queued or executing.
func (a *API) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		httputil.WriteJSONError(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	rep, err := a.queue.GetReport(runID)
	if err == nil {
		httputil.WriteJSON(w, rep, http.StatusOK)
		return
	}
	if !errors.Is(err, queue.ErrRunNotFound) {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status, err := a.queue.GetRunStatus(runID)
	if errors.Is(err, queue.ErrRunNotFound) {
		httputil.WriteJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, status, http.StatusOK)
}

func (a *API) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repo := a.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "Run history is not configured", http.StatusServiceUnavailable)
		return
	}

	limit, err := queryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := repo.GetRecentRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, runs, http.StatusOK)
}

func (a *API) handleChainStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repo := a.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "Run history is not configured", http.StatusServiceUnavailable)
		return
	}

	hours, err := queryInt(r, "hours", defaultStatsHours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := repo.GetChainStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}

	return v, nil
}
