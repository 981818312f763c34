// Package worker provides the background processor that consumes run
// requests from the queue and executes the requested chains.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/metrics"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/registry"
	"github.com/nadmax/gpcheck/internal/report"
	"github.com/nadmax/gpcheck/internal/task"
)

type Notifier interface {
	NotifyFailure(ctx context.Context, rep *report.RunReport) error
}

type Worker struct {
	id           string
	queue        *queue.Queue
	registry     *registry.Registry
	resolver     task.Resolver
	executor     task.Executor
	notifier     Notifier
	stop         chan bool
	pollInterval time.Duration
}

func NewWorker(id string, q *queue.Queue, reg *registry.Registry, resolver task.Resolver, executor task.Executor) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		registry:     reg,
		resolver:     resolver,
		executor:     executor,
		stop:         make(chan bool),
		pollInterval: time.Second,
	}
}

// SetNotifier enables failure alerts. A nil notifier disables them.
func (w *Worker) SetNotifier(n Notifier) {
	w.notifier = n
}

func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// Start polls the queue until Stop is called. A run in progress always
// finishes before the worker stops.
func (w *Worker) Start() {
	log.Printf("Worker %s started", w.id)

	for {
		select {
		case <-w.stop:
			log.Printf("Worker %s stopped", w.id)
			return
		default:
			req, err := w.queue.Dequeue()
			if err != nil {
				log.Printf("Worker %s failed to dequeue: %v", w.id, err)
			}
			if err != nil || req == nil {
				time.Sleep(w.pollInterval)
				continue
			}

			w.processRequest(context.Background(), req)
		}
	}
}

func (w *Worker) processRequest(ctx context.Context, req *queue.RunRequest) {
	log.Printf("Worker %s processing run %s (chain: %s, trigger: %s)", w.id, req.RunID, req.ChainID, req.Trigger)
	metrics.RecordRunWaitTime(req.ChainID, req.Trigger, time.Since(req.RequestedAt))

	def, err := w.registry.Get(req.ChainID)
	if err != nil {
		log.Printf("Worker %s cannot run %s: %v", w.id, req.RunID, err)
		w.queue.ChainTransition(req.RunID, chain.StateNotStarted, chain.StateCompletedFailure)
		return
	}

	start := time.Now()
	rep, err := def.NewRunWithID(req.RunID).SetObserver(w.queue).Run(ctx, w.resolver, w.executor)
	if err != nil {
		log.Printf("Worker %s failed to run %s: %v", w.id, req.RunID, err)
		return
	}
	duration := time.Since(start)

	if err := w.queue.SaveReport(rep, w.id); err != nil {
		log.Printf("Failed to save report for run %s: %v", req.RunID, err)
	}

	metrics.RecordReport(rep, duration)

	status := rep.Summarize()
	log.Printf("Run %s finished: %s", req.RunID, status)

	if status.Kind == report.StatusFailedAt && w.notifier != nil {
		if err := w.notifier.NotifyFailure(ctx, rep); err != nil {
			log.Printf("Failed to send failure alert for run %s: %v", req.RunID, err)
		}
	}
}

func (w *Worker) Stop() {
	w.stop <- true
}
