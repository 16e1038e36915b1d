package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
	"vidgen/internal/infra"
)

type jobStore interface {
	domain.JobStore
	domain.JobEventLog
}

func main() {
	var (
		idFlag     string
		listFlag   int
		eventsFlag bool
		failFlag   bool
		reasonFlag string
		idleFlag   time.Duration
	)

	flag.StringVar(&idFlag, "id", "", "job ID to inspect")
	flag.IntVar(&listFlag, "list", 0, "list the N most recent jobs")
	flag.BoolVar(&eventsFlag, "events", false, "print the job's transition history (with -id)")
	flag.BoolVar(&failFlag, "fail", false, "force a stuck job into failed (with -id); stop the API server first or the job must be idle for -min-idle")
	flag.StringVar(&reasonFlag, "reason", "cancelled by operator", "failure reason used with -fail")
	flag.DurationVar(&idleFlag, "min-idle", -1, "refuse -fail for jobs updated more recently than this (default DRIVE_TIMEOUT, 0 disables)")
	flag.Parse()

	jobID := strings.TrimSpace(idFlag)
	if jobID == "" && listFlag <= 0 {
		exitWithError(errors.New("either -id or -list must be provided"))
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli", cfg.LogLevel).With().Str("cmd", "jobctl").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open durable store: %w", err))
	}
	defer closeStore()

	switch {
	case listFlag > 0:
		jobs, total, err := store.List(ctx, listFlag, 0)
		if err != nil {
			exitWithError(fmt.Errorf("failed to list jobs: %w", err))
		}
		fmt.Printf("%d of %d jobs\n", len(jobs), total)
		for _, job := range jobs {
			fmt.Printf("%s  %-10s %3d%%  %s  %s\n", job.ID, job.State, job.Progress, job.CreatedAt.Format(time.RFC3339), job.Result)
		}
	case failFlag:
		if idleFlag < 0 {
			idleFlag = cfg.DriveTimeout
		}
		job, err := forceFail(ctx, store, jobID, reasonFlag, idleFlag, time.Now())
		if err != nil {
			exitWithError(err)
		}
		fmt.Printf("Job %s marked failed (version %d): %s\n", job.ID, job.Version, job.FailureReason)
	default:
		job, err := store.Get(ctx, jobID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load job: %w", err))
		}
		printJSON(job)
		if eventsFlag {
			events, err := store.ListEvents(ctx, jobID, 500)
			if err != nil {
				exitWithError(fmt.Errorf("failed to load events: %w", err))
			}
			for _, ev := range events {
				fmt.Printf("%s  %-10s %3d%%  %s\n", ev.CreatedAt.Format(time.RFC3339Nano), ev.State, ev.Progress, ev.Payload)
			}
		}
	}
}

// forceFail settles a job that no process is driving any more. Jobs touched
// within minIdle may still be driven by a running server and are refused.
func forceFail(ctx context.Context, store jobStore, jobID, reason string, minIdle time.Duration, now time.Time) (domain.Job, error) {
	job, err := store.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to load job: %w", err)
	}
	if job.State.Terminal() {
		return domain.Job{}, fmt.Errorf("job %s is already %s", job.ID, job.State)
	}
	if idle := now.Sub(job.UpdatedAt); minIdle > 0 && idle < minIdle {
		return domain.Job{}, fmt.Errorf("job %s was updated %s ago; stop the API server or retry after -min-idle=%s", job.ID, idle.Round(time.Second), minIdle)
	}
	if job.State == domain.JobStatePending {
		if err := job.Start(now); err != nil {
			return domain.Job{}, err
		}
	}
	if err := job.Fail(reason, now); err != nil {
		return domain.Job{}, err
	}
	if err := store.Put(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to save job: %w", err)
	}
	if err := store.AppendEvent(ctx, domain.JobEvent{
		JobID:     job.ID,
		State:     job.State,
		Progress:  job.Progress,
		Payload:   jsoncfg.MustMarshal(map[string]any{"error": reason, "operator": true}),
		CreatedAt: job.UpdatedAt,
	}); err != nil {
		return domain.Job{}, fmt.Errorf("failed to record event: %w", err)
	}
	return job, nil
}

func openStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (jobStore, func(), error) {
	switch cfg.DurableStore {
	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewJobRepository(infra.NewSQLRunner(pool, logger)), pool.Close, nil
	case infra.StoreSQLite:
		r, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("DURABLE_STORE=%s keeps no jobs to inspect", cfg.DurableStore)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
