package main

import (
	"github.com/spf13/cobra"

	"insecurity-insight-pipeline/internal/api"
	"insecurity-insight-pipeline/internal/api/handler"
	"insecurity-insight-pipeline/internal/store"
	"insecurity-insight-pipeline/pkg/router"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: api.addr from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	addr := serveAddr
	if addr == "" {
		addr = a.cfg.API.Addr
	}

	runs, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	r := router.New(a.logger)
	api.RegisterRoutes(r, &handler.Handler{Store: runs, Output: a.output, Logger: a.logger})
	return r.Start(ctx, addr)
}
