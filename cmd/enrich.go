package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/cache"
	"github.com/sells-group/muni-enrich/internal/monitoring"
	"github.com/sells-group/muni-enrich/internal/pipeline"
)

var (
	enrichOut     string
	enrichNoRoute bool
	enrichLimit   int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fetch, enrich and write the CSV, filling the cache as it goes",
	Long: `Runs the full batch: directory, index table, origin, then every municipality in
name order. Lookups already in the cache are not repeated, so an interrupted run
resumes where it stopped.

Examples:
  muni-enrich enrich
  muni-enrich enrich --out bahia.csv --no-route
  muni-enrich enrich --limit 5`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		skipRoute := enrichNoRoute || cfg.Route.Skip
		env, err := initEnv(ctx, false, skipRoute, enrichLimit)
		if err != nil {
			return err
		}
		defer env.Close()

		return runBatch(ctx, env, outputPath(enrichOut))
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichOut, "out", "", "output CSV path (default: output.path)")
	enrichCmd.Flags().BoolVar(&enrichNoRoute, "no-route", false, "skip driving routes, geodesic distance only")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "process only the first N municipalities (0 = all)")
	rootCmd.AddCommand(enrichCmd)
}

func outputPath(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Output.Path
}

// runBatch lists the entities, runs the enricher and writes whatever was
// emitted, even when the run aborted.
func runBatch(ctx context.Context, env *runEnv, out string) error {
	start := time.Now()

	entities, err := env.Directory.ListEntities(ctx, cfg.State.Code)
	if err != nil {
		if eris.Is(err, cache.ErrMiss) {
			return eris.Wrap(err, "municipality list is not cached; run `muni-enrich enrich` first")
		}
		return err
	}
	zap.L().Info("entities listed", zap.Int("count", len(entities)), zap.String("state", cfg.State.Code))

	res, runErr := env.Enricher.Run(ctx, entities)
	if res == nil {
		return runErr
	}

	if err := pipeline.WriteCSV(out, res.Records); err != nil {
		return err
	}
	zap.L().Info("csv written", zap.String("path", out), zap.Int("rows", len(res.Records)))

	report(ctx, env, res, runErr, time.Since(start))
	return runErr
}

// report logs the run summary, evaluates alerts and writes the metrics textfile.
func report(ctx context.Context, env *runEnv, res *pipeline.Result, runErr error, elapsed time.Duration) {
	env.Metrics.RunDuration.Set(elapsed.Seconds())

	snap := monitoring.Collect(res.Records, env.Metrics)
	snap.RunID = runID
	snap.RouteSkipped = res.RouteSkipped
	snap.Duration = elapsed
	if ae, ok := pipeline.IsAbort(runErr); ok {
		snap.Aborted = true
		snap.AbortCause = ae.Cause.Error()
		snap.LastEntity = ae.LastEntity
	}
	snap.Log()

	// Alerts still go out when the run was interrupted.
	alertCtx := context.WithoutCancel(ctx)
	env.Alerter.SendAlerts(alertCtx, env.Alerter.Evaluate(snap))

	if path := cfg.Monitoring.Textfile; path != "" {
		if err := env.Metrics.WriteTextfile(path); err != nil {
			zap.L().Warn("metrics textfile not written", zap.Error(err))
		}
	}
}
