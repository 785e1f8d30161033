// pipeline publishes Insecurity Insight incident data to HDX.
//
// Usage:
//
//	pipeline run      [--topics=healthcare,crsv] [--countries=NGA] [--force=all] [--dry-run]
//	pipeline check    [--topics=...] [--use-saved=DIR]
//	pipeline schedule [--cron="0 5 * * *"] [run flags]
//	pipeline serve    [--addr=:8080]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Publish Insecurity Insight incident data to HDX",
	Long: `Fetches the Insecurity Insight API, redacts restricted locations and narratives,
writes typed spreadsheets and publishes topic and country datasets to HDX.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalOpts.configPath, "config", "", "project configuration file (default: embedded)")
	flags.StringVar(&globalOpts.hdxSite, "hdx-site", "", "HDX site to publish to (overrides config and HDX_SITE)")
	flags.BoolVarP(&globalOpts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
