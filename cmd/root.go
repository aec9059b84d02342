package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/config"
)

var (
	cfg   *config.Config
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "muni-enrich",
	Short: "Municipality enrichment: development index and distances to the capital",
	Long: "Lists every municipality of a state, joins its HDI-M from Wikipedia, geocodes its seat with Nominatim " +
		"and measures geodesic and OSRM driving distance from the origin city. Every lookup is cached on disk.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		runID = uuid.NewString()
		zap.ReplaceGlobals(zap.L().With(zap.String("run_id", runID)))

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
