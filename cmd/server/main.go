package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/nadmax/gpcheck/internal/api"
	"github.com/nadmax/gpcheck/internal/config"
	"github.com/nadmax/gpcheck/internal/middleware"
	"github.com/nadmax/gpcheck/internal/queue"
	"github.com/nadmax/gpcheck/internal/registry"
	"github.com/nadmax/gpcheck/internal/repository"
	"github.com/nadmax/gpcheck/internal/scheduler"
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
	} else {
		log.Println("POSTGRES_DSN not set, run history endpoints are disabled")
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close server queue: %v", err)
		}
	}()

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.New(q, reg).Start(ctx)
	go startMetricsCollector(q)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.MetricsMiddleware(api.NewAPI(q, reg)))

	log.Printf("Server starting on :%d", cfg.Server.Port)
	log.Printf("Connected to Redis at %s", cfg.Redis.Addr)
	log.Printf("%d chains registered", len(reg.List()))

	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port), mux); err != nil {
		log.Fatal(err)
	}
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	defs, err := cfg.Definitions()
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
