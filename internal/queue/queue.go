// Package queue stores run requests, live run status and finished reports
// in Redis, shared between the API server and the workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/repository"
	"github.com/nadmax/gpcheck/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	requestsKey   = "run_requests"
	queueKey      = "run_queue"
	reportsKey    = "runs"
	reportIndex   = "run_index"
	runStatesKey  = "run_states"
	taskStatesKey = "run_tasks:"
)

var ErrRunNotFound = errors.New("run not found")

type Queue struct {
	client *redis.Client
	ctx    context.Context
	repo   repository.RunRepository
}

// NewQueue connects to Redis. repo is optional; when set, finished reports
// are also written to the run history.
func NewQueue(redisAddr string, repo repository.RunRepository) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		ctx:    ctx,
		repo:   repo,
	}, nil
}

func (q *Queue) Enqueue(req *RunRequest) error {
	reqJSON, err := req.ToJSON()
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(q.ctx, requestsKey, req.RunID, reqJSON)
	pipe.HSet(q.ctx, runStatesKey, req.RunID, string(chain.StateNotStarted))
	pipe.ZAdd(q.ctx, queueKey, redis.Z{
		Score:  float64(req.RequestedAt.UnixMilli()),
		Member: req.RunID,
	})
	_, err = pipe.Exec(q.ctx)

	return err
}

// Dequeue pops the oldest pending request, or returns nil when the queue is
// empty or another worker claimed the head first.
func (q *Queue) Dequeue() (*RunRequest, error) {
	results, err := q.client.ZRangeByScore(q.ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", time.Now().UnixMilli()),
		Count: 1,
	}).Result()
	if err != nil || len(results) == 0 {
		return nil, err
	}

	runID := results[0]
	removed, err := q.client.ZRem(q.ctx, queueKey, runID).Result()
	if err != nil || removed == 0 {
		return nil, err
	}

	return q.GetRequest(runID)
}

func (q *Queue) GetRequest(runID string) (*RunRequest, error) {
	reqJSON, err := q.client.HGet(q.ctx, requestsKey, runID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	return RunRequestFromJSON(reqJSON)
}

func (q *Queue) PendingCount() (int64, error) {
	return q.client.ZCard(q.ctx, queueKey).Result()
}

// SaveReport stores a finished report and, when a repository is configured,
// records it in the run history.
func (q *Queue) SaveReport(rep *report.RunReport, workerID string) error {
	repJSON, err := rep.ToJSON()
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(q.ctx, reportsKey, rep.RunID(), repJSON)
	pipe.ZAdd(q.ctx, reportIndex, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: rep.RunID(),
	})
	if _, err := pipe.Exec(q.ctx); err != nil {
		return err
	}

	if q.repo != nil {
		if err := q.repo.SaveRun(q.ctx, rep, workerID); err != nil {
			return fmt.Errorf("failed to save run history: %w", err)
		}
	}

	return nil
}

func (q *Queue) GetReport(runID string) (*report.RunReport, error) {
	repJSON, err := q.client.HGet(q.ctx, reportsKey, runID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	return report.FromJSON(repJSON)
}

// ListReports returns up to limit reports, newest first. A limit of zero or
// less returns all of them.
func (q *Queue) ListReports(limit int) ([]*report.RunReport, error) {
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}

	ids, err := q.client.ZRevRange(q.ctx, reportIndex, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*report.RunReport{}, nil
	}

	values, err := q.client.HMGet(q.ctx, reportsKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	reports := make([]*report.RunReport, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rep, err := report.FromJSON(s)
		if err != nil {
			continue
		}
		reports = append(reports, rep)
	}

	return reports, nil
}

// GetRunStatus returns the live state of a run, including runs that are
// still queued or executing.
func (q *Queue) GetRunStatus(runID string) (*RunStatus, error) {
	req, err := q.GetRequest(runID)
	if err != nil {
		return nil, err
	}

	state, err := q.client.HGet(q.ctx, runStatesKey, runID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if state == "" {
		state = string(chain.StateNotStarted)
	}

	taskStates, err := q.client.HGetAll(q.ctx, taskStatesKey+runID).Result()
	if err != nil {
		return nil, err
	}

	status := &RunStatus{
		RunID:      runID,
		ChainID:    req.ChainID,
		State:      chain.State(state),
		TaskStates: make(map[string]task.State, len(taskStates)),
	}
	for id, s := range taskStates {
		status.TaskStates[id] = task.State(s)
	}

	return status, nil
}

func (q *Queue) TaskTransition(runID, taskID string, _, to task.State) {
	if err := q.client.HSet(q.ctx, taskStatesKey+runID, taskID, string(to)).Err(); err != nil {
		log.Printf("failed to record task transition for run %s: %v", runID, err)
	}
}

func (q *Queue) ChainTransition(runID string, _, to chain.State) {
	if err := q.client.HSet(q.ctx, runStatesKey, runID, string(to)).Err(); err != nil {
		log.Printf("failed to record chain transition for run %s: %v", runID, err)
	}
}

func (q *Queue) GetRepository() repository.RunRepository {
	return q.repo
}

func (q *Queue) Close() error {
	return q.client.Close()
}
