// Command caseroute runs operator tasks against the case database: schema
// migration, rule catalogue import, reviewer directory import and manual
// routing passes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/caseroute/backend/internal/config"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd creates the caseroute command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "caseroute",
		Short:         "Operator tools for the case routing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(NewMigrateCmd(), NewRulesCmd(), NewReviewersCmd(), NewRouteCmd())
	return root
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	if cfg.DatabaseURL == "" {
		return cfg, logger, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, logger, nil
}
