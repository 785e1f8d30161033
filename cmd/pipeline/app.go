package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/catalog"
	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/logging"
	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/notify"
	"insecurity-insight-pipeline/internal/pipeline"
	"insecurity-insight-pipeline/internal/store"
	"insecurity-insight-pipeline/pkg/utils"
)

var globalOpts struct {
	configPath string
	hdxSite    string
	verbose    bool
}

// sourceOpts select where responses come from
type sourceOpts struct {
	useSaved string // replay <dir>/<topic>-<kind>.json instead of calling the API
	save     string // keep every fetched response here
	samples  string // expected keys from sample responses instead of the schema table
}

// app is the wiring shared by every command
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	meta   *metadata.Catalog
	output *utils.OutputManager
}

func newApp() (*app, error) {
	cfg, err := config.Load(globalOpts.configPath)
	if err != nil {
		return nil, err
	}
	if globalOpts.hdxSite != "" {
		cfg.HDX.Site = globalOpts.hdxSite
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger, err := logging.New(globalOpts.verbose)
	if err != nil {
		return nil, err
	}

	meta, err := metadata.LoadDir(cfg.MetadataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	output := utils.NewOutputManager(cfg.OutputDir)
	if err := output.EnsureOutputDirExists(); err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, meta: meta, output: output}, nil
}

func (a *app) source(opts sourceOpts) pipeline.Source {
	var src pipeline.Source
	if opts.useSaved != "" {
		a.logger.Info("using saved responses", zap.String("dir", opts.useSaved))
		src = pipeline.DirSource{Dir: opts.useSaved}
	} else {
		retry := pipeline.DefaultRetryPolicy
		retry.Delay = a.cfg.RetryDelayDuration()
		src = pipeline.NewHTTPSource(a.cfg.BaseURL, a.cfg.UserAgent,
			a.cfg.RequestTimeoutDuration(), a.cfg.RequestDelayDuration(), retry, a.logger)
	}
	if opts.save != "" {
		src = pipeline.SavingSource{Source: src, Dir: opts.save}
	}
	return src
}

// orchestrator wires a run. The store and notifier may be nil.
func (a *app) orchestrator(opts sourceOpts, runs *store.Store, notifier notify.Notifier) *pipeline.Orchestrator {
	o := &pipeline.Orchestrator{
		Config:   a.cfg,
		Metadata: a.meta,
		Source:   a.source(opts),
		Catalog:  catalog.NewCKAN(a.cfg.SiteURL(), a.cfg.HDX.APIKey, a.cfg.UserAgent, a.logger),
		Output:   a.output,
		Logger:   a.logger,
	}
	if opts.samples != "" {
		o.Expected = pipeline.SampleKeys{Dir: opts.samples, Fallback: a.meta}
	}
	if runs != nil {
		o.Store = runs
	}
	if notifier != nil {
		o.Notifier = notifier
	}
	return o
}

// requireKey refuses to publish without an HDX API key
func (a *app) requireKey(dryRun bool) error {
	if !dryRun && a.cfg.HDX.APIKey == "" {
		return errors.New("HDX_KEY is not set; use --dry-run to run without publishing")
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
