package main

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/logging"
	"insecurity-insight-pipeline/internal/notify"
	"insecurity-insight-pipeline/internal/store"
)

var scheduleSpec string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule until interrupted",
	RunE:  runSchedule,
}

func init() {
	addRunFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "", "cron expression (default: schedule from config)")
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	if err := a.requireKey(runOpts.dryRun); err != nil {
		return err
	}
	spec := scheduleSpec
	if spec == "" {
		spec = a.cfg.Schedule
	}

	runs, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer runs.Close()
	notifier := notify.New(a.cfg.Notify, a.logger)
	defer notifier.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cronLogger := cron.PrintfLogger(zap.NewStdLog(a.logger.Named("cron")))
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	o := a.orchestrator(runOpts.source, runs, notifier)
	_, err = c.AddFunc(spec, func() {
		logging.Banner(a.logger, "HDX Scraper", time.Now())
		report, err := o.Run(ctx, pipelineOptions(a))
		if err != nil {
			a.logger.Error("scheduled run failed", zap.Error(err))
			return
		}
		a.logger.Info("scheduled run finished",
			zap.String("run_id", report.RunID),
			zap.Int("topics_updated", report.TopicsUpdated))
	})
	if err != nil {
		return err
	}

	c.Start()
	a.logger.Info("scheduler started", zap.String("cron", spec))
	<-ctx.Done()
	a.logger.Info("stopping scheduler, waiting for a running pipeline")
	<-c.Stop().Done()
	return nil
}
