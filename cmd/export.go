package main

import (
	"github.com/spf13/cobra"
)

var (
	exportOut     string
	exportNoRoute bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the CSV from the cache alone, without network access",
	Long: `Rebuilds the output from what earlier runs cached. Anything not cached becomes an
empty cell. The municipality list and the origin must be cached; run enrich first.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, true, exportNoRoute || cfg.Route.Skip, 0)
		if err != nil {
			return err
		}
		defer env.Close()

		return runBatch(ctx, env, outputPath(exportOut))
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output CSV path (default: output.path)")
	exportCmd.Flags().BoolVar(&exportNoRoute, "no-route", false, "leave route columns empty")
	rootCmd.AddCommand(exportCmd)
}
