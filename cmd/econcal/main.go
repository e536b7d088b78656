package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eisei-komiya/econ-cal-sync/internal/calendar"
	"github.com/eisei-komiya/econ-cal-sync/internal/config"
	"github.com/eisei-komiya/econ-cal-sync/internal/engine"
	appLog "github.com/eisei-komiya/econ-cal-sync/internal/log"
	"github.com/eisei-komiya/econ-cal-sync/internal/metrics"
	"github.com/eisei-komiya/econ-cal-sync/internal/model"
	"github.com/eisei-komiya/econ-cal-sync/internal/source"
)

type flagConfig struct {
	configPath string
	sourceName string
	once       bool
	dryRun     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI -source overrides the configured source if provided.
	if flags.sourceName != "" {
		conf.Source.Type = flags.sourceName
	}

	appLog.Info("econcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"source", conf.Source.Type,
		"currencies", strings.Join(conf.Sync.Currencies, ","),
		"min_importance", conf.Sync.MinImportance,
		"window_weeks", conf.Sync.WindowWeeks,
		"calendar_id", conf.Calendar.CalendarID,
		"schedule", conf.Schedule,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	src, err := source.NewFromConfig(conf.Source)
	if err != nil {
		appLog.Error("failed to build source", err, "type", conf.Source.Type)
		return 1
	}
	cal, err := calendar.NewGoogle(ctx, conf.Calendar)
	if err != nil {
		appLog.Error("failed to build calendar client", err)
		return 1
	}

	eng := engine.New(src, cal)
	engCfg := engine.Config{
		Currencies:    conf.Sync.Currencies,
		MinImportance: model.ParseImportance(conf.Sync.MinImportance),
		WindowWeeks:   conf.Sync.WindowWeeks,
		DryRun:        flags.dryRun,
	}

	if flags.once {
		sum := eng.Run(ctx, engCfg)
		logSummary(sum)
		if sum.FatalErr != nil {
			return 1
		}
		return 0
	}

	// Schedule mode: metrics listener + cron, first run right away.
	rec := metrics.NewRecorder(conf.Metrics.Listen)
	go func() {
		if serr := rec.Serve(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			appLog.Error("metrics server failed", serr, "listen", conf.Metrics.Listen)
		}
	}()

	runJob := func() {
		sum := eng.Run(ctx, engCfg)
		rec.ObserveRun(sum)
		logSummary(sum)
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.AddFunc(conf.Schedule, runJob); err != nil {
		appLog.Error("invalid cron schedule", err, "schedule", conf.Schedule)
		return 1
	}

	// The scheduler is not started yet, so this first run cannot overlap
	// a tick.
	runJob()
	sched.Start()
	appLog.Info("scheduler started", "schedule", conf.Schedule, "metrics_listen", conf.Metrics.Listen)

	<-ctx.Done()

	// Let an in-flight run finish, then stop serving metrics.
	<-sched.Stop().Done()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = rec.Shutdown(shCtx)

	appLog.Info("econcal exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/econcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.sourceName, "source", "", "Data source override ("+strings.Join(source.Available, ", ")+")")
	flag.BoolVar(&cfg.once, "once", false, "Run a single sync and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Compute and log the plan without writing to the calendar")

	flag.Parse()

	return cfg
}

func logSummary(sum engine.Summary) {
	if sum.FatalErr != nil {
		appLog.Error("sync run failed", sum.FatalErr,
			"run_id", sum.RunID,
			"class", failureClass(sum.FatalErr),
			"created", sum.Created,
			"updated", sum.Updated,
			"deleted", sum.Deleted,
			"skipped", sum.Skipped,
			"failed", sum.Failed,
		)
		return
	}
	appLog.Info("sync summary",
		"run_id", sum.RunID,
		"source", sum.Source,
		"fetched", sum.Fetched,
		"desired", sum.Desired,
		"observed", sum.Observed,
		"created", sum.Created,
		"updated", sum.Updated,
		"deleted", sum.Deleted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"failed_keys", strings.Join(sum.FailedKeys, ","),
		"duration", sum.Duration.Round(time.Millisecond).String(),
	)
}

// failureClass names the fatal-error class for operators: auth problems
// and source outages need different fixes.
func failureClass(err error) string {
	var fetchErr *source.FetchError
	var authErr *calendar.AuthError
	var transientErr *calendar.TransientError
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &transientErr):
		return "calendar"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unexpected"
	}
}
