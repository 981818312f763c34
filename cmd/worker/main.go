package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/gpcheck/internal/config"
	"github.com/nadmax/gpcheck/internal/executor"
	"github.com/nadmax/gpcheck/internal/metrics"
	"github.com/nadmax/gpcheck/internal/notify"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/registry"
	"github.com/nadmax/gpcheck/internal/repository"
	"github.com/nadmax/gpcheck/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var repo repository.RunRepository
	if cfg.History.DSN != "" {
		pg, err := repository.NewPostgresRunRepository(cfg.History.DSN)
		if err != nil {
			log.Fatal(err)
		}

		defer func() {
			if err := pg.Close(); err != nil {
				log.Printf("failed to close Postgres repository: %v", err)
			}
		}()

		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatal(err)
		}
		repo = pg
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close worker queue: %v", err)
		}
	}()

	defs, err := cfg.Definitions()
	if err != nil {
		log.Fatal(err)
	}

	reg := registry.New()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			log.Fatal(err)
		}
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	w := worker.NewWorker(workerID, q, reg, cfg.Resolver(), executor.NewPostgresExecutor(cfg.Executor.StatementTimeout))
	w.SetPollInterval(cfg.Worker.PollInterval)

	if cfg.Alerts.Enabled() {
		w.SetNotifier(notify.NewEmailNotifier(cfg.Alerts.APIKey, cfg.Alerts.FromName, cfg.Alerts.FromAddress, cfg.Alerts.To))
		log.Printf("Failure alerts will be sent to %s", cfg.Alerts.To)
	}

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9091"
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+metricsPort, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	metrics.UpdateActiveWorkers(1)
	go w.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down worker...")
	w.Stop()
	metrics.UpdateActiveWorkers(0)
}
