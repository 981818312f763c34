package main

import (
	"context"
	"flag"
	"log"

	"github.com/nadmax/gpcheck/internal/config"
	"github.com/nadmax/gpcheck/internal/export"
	"github.com/nadmax/gpcheck/internal/repository"
)

func main() {
	reportType := flag.String("type", export.TypeChainSummary, "report type: chain_summary, task_failures, hourly_breakdown, worker_performance")
	format := flag.String("format", "csv", "output format: csv or json")
	out := flag.String("out", "./reports", "output directory")
	since := flag.String("since", "", "start of the period (RFC3339), defaults to 24h ago")
	until := flag.String("until", "", "end of the period (RFC3339), defaults to now")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.History.DSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	repo, err := repository.NewPostgresRunRepository(cfg.History.DSN)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := repo.Close(); err != nil {
			log.Printf("failed to close Postgres repository: %v", err)
		}
	}()

	path, err := export.NewGenerator(repo.DB()).Generate(context.Background(), export.Request{
		ReportType: *reportType,
		StartTime:  *since,
		EndTime:    *until,
		Format:     *format,
		OutputPath: *out,
	})
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("Report written to %s", path)
}
