// Package scheduler enqueues runs of scheduled chains when their cron
// expression comes due.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/metrics"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/registry"
)

const defaultPollInterval = 15 * time.Second

type Scheduler struct {
	queue        *queue.Queue
	registry     *registry.Registry
	pollInterval time.Duration

	mu    sync.Mutex
	fired map[string]time.Time
}

func New(q *queue.Queue, reg *registry.Registry) *Scheduler {
	return &Scheduler{
		queue:        q,
		registry:     reg,
		pollInterval: defaultPollInterval,
		fired:        make(map[string]time.Time),
	}
}

// SetPollInterval changes how often the registry is checked. It must stay
// below one minute or cron ticks will be missed.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Start checks for due chains until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	log.Printf("Scheduler started (poll interval: %s)", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick enqueues one run for every chain due in the minute containing now
// and returns how many were enqueued. A chain fires at most once per minute.
func (s *Scheduler) tick(now time.Time) int {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	enqueued := 0
	for _, def := range s.registry.Due(minute) {
		if last, ok := s.fired[def.ID]; ok && last.Equal(minute) {
			continue
		}

		req := queue.NewRunRequest(def.ID, chain.TriggerScheduled)
		if err := s.queue.Enqueue(req); err != nil {
			log.Printf("Failed to enqueue scheduled run of chain %s: %v", def.ID, err)
			continue
		}

		s.fired[def.ID] = minute
		metrics.RecordRunEnqueued(def.ID, chain.TriggerScheduled)
		log.Printf("Scheduled run %s of chain %s enqueued", req.RunID, def.ID)
		enqueued++
	}

	return enqueued
}
