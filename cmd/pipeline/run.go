package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/logging"
	"insecurity-insight-pipeline/internal/notify"
	"insecurity-insight-pipeline/internal/pipeline"
	"insecurity-insight-pipeline/internal/store"
)

var runOpts struct {
	topics    []string
	countries []string
	force     []string
	dryRun    bool
	year      int
	source    sourceOpts
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long: `Fetches every endpoint, stops if any endpoint changed format, decides which
topics have fresh data and publishes their topic and country datasets.`,
	RunE: runRun,
}

var checkOpts struct {
	topics []string
	source sourceOpts
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch every endpoint and report format changes without publishing",
	RunE:  runCheck,
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&runOpts.topics, "topics", nil, "topics to run (default: all)")
	f.StringSliceVar(&runOpts.countries, "countries", nil, "ISO3 codes of country datasets to refresh (default: all)")
	f.StringSliceVar(&runOpts.force, "force", nil, `topics to refresh regardless of dates, or "all"`)
	f.BoolVar(&runOpts.dryRun, "dry-run", false, "write spreadsheets but do not publish")
	f.IntVar(&runOpts.year, "year", 0, "current year for current-year spreadsheets (default: this year)")
	addSourceFlags(cmd, &runOpts.source)
}

func addSourceFlags(cmd *cobra.Command, opts *sourceOpts) {
	f := cmd.Flags()
	f.StringVar(&opts.useSaved, "use-saved", "", "read responses from DIR instead of the API")
	f.StringVar(&opts.save, "save", "", "save every API response to DIR")
	f.StringVar(&opts.samples, "samples", "", "compare API keys against sample responses in DIR")
}

func init() {
	addRunFlags(runCmd)
	checkCmd.Flags().StringSliceVar(&checkOpts.topics, "topics", nil, "topics to check (default: all)")
	addSourceFlags(checkCmd, &checkOpts.source)
}

func pipelineOptions(a *app) pipeline.Options {
	return pipeline.Options{
		Topics:      runOpts.topics,
		Countries:   runOpts.countries,
		Force:       runOpts.force,
		DryRun:      runOpts.dryRun,
		Environment: a.cfg.HDX.Site,
		CurrentYear: runOpts.year,
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	if err := a.requireKey(runOpts.dryRun); err != nil {
		return err
	}
	logging.Banner(a.logger, "HDX Scraper", time.Now())

	runs, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer runs.Close()
	notifier := notify.New(a.cfg.Notify, a.logger)
	defer notifier.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	report, err := a.orchestrator(runOpts.source, runs, notifier).Run(ctx, pipelineOptions(a))
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			a.logger.Warn("failed to write run report", zap.Error(encErr))
		}
	}
	if pipeline.IsSchemaChange(err) {
		a.logger.Error("one or more endpoints changed format, nothing was published", zap.Error(err))
	}
	return err
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	logging.Banner(a.logger, "Endpoint check", time.Now())

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := a.orchestrator(checkOpts.source, nil, nil).Check(ctx, checkOpts.topics); err != nil {
		return err
	}
	a.logger.Info("all endpoints match their expected format")
	return nil
}
