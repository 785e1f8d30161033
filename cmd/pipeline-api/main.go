// @title Insecurity Insight Pipeline API
// @version 1.0
// @description Run history of the Insecurity Insight to HDX publishing pipeline.
// @BasePath /
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"insecurity-insight-pipeline/internal/api"
	"insecurity-insight-pipeline/internal/api/handler"
	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/logging"
	"insecurity-insight-pipeline/internal/store"
	"insecurity-insight-pipeline/pkg/router"
	"insecurity-insight-pipeline/pkg/utils"
)

var opts struct {
	configPath string
	addr       string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:          "pipeline-api",
	Short:        "Serve the run history of the Insecurity Insight pipeline",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runAPI,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "project configuration file (default: embedded)")
	f.StringVar(&opts.addr, "addr", "", "listen address (default: api.addr from config)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
}

func runAPI(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	addr := opts.addr
	if addr == "" {
		addr = cfg.API.Addr
	}

	// Init DB
	runs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer runs.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := router.New(logger)
	api.RegisterRoutes(r, &handler.Handler{Store: runs, Output: utils.NewOutputManager(cfg.OutputDir), Logger: logger})
	return r.Start(ctx, addr)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
