// Command mergegen runs one batch generation from a YAML job file and
// writes the outputs to a directory.
//
//	mergegen -job badge.yaml [-out ./out] [-log-level debug]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/mailmerge/internal/archive"
	"github.com/JonMunkholm/mailmerge/internal/assets"
	"github.com/JonMunkholm/mailmerge/internal/core"
	"github.com/JonMunkholm/mailmerge/internal/logging"
	"github.com/JonMunkholm/mailmerge/internal/render"
	"github.com/JonMunkholm/mailmerge/internal/source"
	"github.com/JonMunkholm/mailmerge/internal/storage"
)

func main() {
	jobPath := flag.String("job", "", "path to the YAML job file")
	out := flag.String("out", "", "output directory (overrides the job)")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	format := flag.String("log-format", "text", "text or json")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New(os.Stderr, *level, *format)

	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "usage: mergegen -job <file.yaml>")
		os.Exit(2)
	}

	job, err := LoadJob(*jobPath)
	if err != nil {
		logger.Error("invalid job", "error", err)
		os.Exit(1)
	}
	if *out != "" {
		job.Output = *out
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final, err := runJob(ctx, job, logger)
	if err != nil {
		logger.Error("generation failed", "error", err, "code", core.MapError(err).Code)
		os.Exit(1)
	}

	logger.Info("generation finished",
		"status", final.Status,
		"success", final.SuccessCount,
		"errors", final.ErrorCount,
		"warnings", final.WarningCount,
		"location", final.Location,
	)
	if final.Status != core.StatusCompleted {
		os.Exit(1)
	}
}

func runJob(ctx context.Context, job *Job, logger *slog.Logger) (core.GenerationProgress, error) {
	svc, err := core.NewService(core.Options{
		Pipeline: &core.Pipeline{
			NewSurface: render.NewSurface,
			Images:     assets.NewResolver(assets.Options{Logger: logger}).Defaults(30*time.Second, job.dir),
			Sink:       storage.FileSink{Dir: job.path(job.Output)},
			NewBundle:  archive.Factory(archive.Options{}),
			Supports:   render.Supports,
			Logger:     logger,
		},
		Logger: logger,
	})
	if err != nil {
		return core.GenerationProgress{}, err
	}

	src, err := svc.LoadSource(ctx, func(ctx context.Context) (*core.DataSource, error) {
		return loadSource(ctx, job)
	})
	if err != nil {
		return core.GenerationProgress{}, err
	}
	logger.Info("source loaded", "name", src.Name, "records", src.RecordCount())

	tmpl, err := job.LoadTemplate()
	if err != nil {
		return core.GenerationProgress{}, err
	}
	if err := svc.SetTemplate(tmpl); err != nil {
		return core.GenerationProgress{}, err
	}

	filters, sorts, rules, err := job.Session()
	if err != nil {
		return core.GenerationProgress{}, err
	}
	svc.SetFilters(filters)
	svc.SetSorts(sorts)
	svc.SetRules(rules)

	for _, issue := range svc.Validate() {
		logger.Warn("validation", "severity", issue.Severity, "code", issue.Code, "message", issue.Message)
	}

	run, err := svc.StartGeneration(ctx, job.Config)
	if err != nil {
		return core.GenerationProgress{}, err
	}
	go logProgress(run, logger)

	final, err := run.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		// interrupted: stop the run and report where it got to
		_ = svc.CancelRun(run.ID())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return run.Wait(shutdownCtx)
	}
	return final, err
}

func loadSource(ctx context.Context, job *Job) (*core.DataSource, error) {
	spec := job.Source
	if spec.File != "" {
		f, err := os.Open(job.path(spec.File))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return source.Load(ctx, spec.Name, f, source.Options{Sheet: spec.Sheet})
	}

	dsn := spec.Database
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("query source needs source.database or DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	return source.LoadQuery(ctx, pool, spec.Name, spec.Query)
}

// logProgress logs at most one progress line per second until the run ends.
func logProgress(run *core.Run, logger *slog.Logger) {
	updates, unsubscribe := run.Subscribe()
	defer unsubscribe()

	every := rate.Sometimes{Interval: time.Second}
	for p := range updates {
		every.Do(func() {
			logger.Info("progress",
				"run_id", p.RunID,
				"record", p.CurrentRecord,
				"total", p.TotalRecords,
				"percent", p.Percentage,
			)
		})
	}
}
