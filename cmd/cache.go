package main

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/muni-enrich/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the lookup caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the entry count of every cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		m := cache.NewManager(store)
		defer m.Close() //nolint:errcheck

		names, err := m.Names(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cache dir: %s (%s)\n", cfg.Cache.Dir, cfg.Cache.Driver)
		if len(names) == 0 {
			fmt.Fprintln(out, "no caches")
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(out, "%-12s %d\n", name, m.Len(ctx, name))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [cache...]",
	Short: "Delete the named caches, or all of them",
	Long:  "Deleting a cache is the only way to invalidate it. Known caches: municipios, idhm2010, geocode, route.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := initStore(ctx)
		if err != nil {
			return err
		}
		m := cache.NewManager(store)
		defer m.Close() //nolint:errcheck

		existing, err := m.Names(ctx)
		if err != nil {
			return err
		}
		targets := args
		if len(targets) == 0 {
			targets = existing
		}
		for _, name := range targets {
			if !slices.Contains(existing, name) {
				return eris.Errorf("cache %q does not exist", name)
			}
			if err := m.Drop(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", name)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
