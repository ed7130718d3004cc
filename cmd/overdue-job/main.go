// Command overdue-job flags unpaid installments whose due date has passed.
// It runs once and exits; schedule it with cron or a Kubernetes CronJob.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/billing"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

func main() {
	asOfFlag := flag.String("as-of", "", "mark installments due before this date (YYYY-MM-DD), default today")
	timeout := flag.Duration("timeout", 20*time.Second, "run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("overdue-job", cfg.Env)

	asOf := time.Now().In(cfg.Location)
	if *asOfFlag != "" {
		d, err := calendar.ParseDate(*asOfFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -as-of")
		}
		asOf = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, cfg.Location)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	err = runOnce(rootCtx, a.Ledger, asOf, *timeout)
	a.Close()
	if err != nil {
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, ledger *billing.Ledger, asOf time.Time, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := ledger.MarkOverdue(runCtx, asOf)
	if err != nil {
		log.Error().Err(err).Msg("overdue run error")
		return err
	}
	log.Info().Int("marked", n).Str("as_of", asOf.Format(calendar.DateLayout)).
		Dur("elapsed", time.Since(start)).Msg("overdue run complete")
	return nil
}
