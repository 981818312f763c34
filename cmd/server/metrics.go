package main

import (
	"log"
	"time"

	"github.com/nadmax/gpcheck/internal/metrics"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/report"
)

func startMetricsCollector(q *queue.Queue) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		updateRunMetrics(q)
	}
}

func updateRunMetrics(q *queue.Queue) {
	pending, err := q.PendingCount()
	if err != nil {
		log.Printf("Failed to get queue depth for metrics: %v", err)
	} else {
		metrics.UpdateQueueDepth(int(pending))
	}

	reports, err := q.ListReports(0)
	if err != nil {
		log.Printf("Failed to get runs for metrics: %v", err)
		return
	}

	runsByStatus := make(map[report.StatusKind]int)
	for _, rep := range reports {
		runsByStatus[rep.Summarize().Kind]++
	}

	metrics.UpdateRunGauges(runsByStatus)
}
