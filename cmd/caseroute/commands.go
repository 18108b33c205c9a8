package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caseroute/backend/internal/db"
	"github.com/caseroute/backend/internal/directory"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/rules"
	"github.com/caseroute/backend/internal/store"
)

// NewMigrateCmd creates migrate command
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := db.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting db: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			logger.Info().Msg("schema up to date")
			return nil
		},
	}
}

// NewRulesCmd creates rules command
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the routing rule catalogue",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert teams, queues and rules from a YAML catalogue",
		Long: `Upsert teams, queues and routing rules from a YAML catalogue.

The whole file is validated before anything is written and imported in a
single transaction.

Examples:
  caseroute rules import rules.yaml
  caseroute rules import rules.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := rules.LoadFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d teams, %d queues, %d rules (not imported)\n",
					args[0], len(cat.Teams), len(cat.Queues), len(cat.Rules))
				return nil
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := db.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting db: %w", err)
			}
			defer pg.Close()

			var sum rules.ImportSummary
			err = pg.WithTx(cmd.Context(), func(tx store.Tx) error {
				sum, err = rules.Import(cmd.Context(), tx, cat)
				return err
			})
			if err != nil {
				return err
			}
			logger.Info().Int("teams", sum.Teams).Int("queues", sum.Queues).Int("rules", sum.Rules).Msg("rules imported")
			return nil
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")

	cmd.AddCommand(importCmd)
	return cmd
}

// NewReviewersCmd creates reviewers command
func NewReviewersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewers",
		Short: "Manage the local reviewer directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Bulk load reviewers (YAML or JSON list of {id, name, active})",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewers, err := readReviewers(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := db.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting db: %w", err)
			}
			defer pg.Close()

			n, err := pg.ImportReviewers(cmd.Context(), reviewers)
			if err != nil {
				return fmt.Errorf("importing reviewers: %w", err)
			}
			logger.Info().Int64("rows", n).Msg("reviewers imported")
			return nil
		},
	})
	return cmd
}

type reviewerRecord struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
}

func readReviewers(path string) ([]models.Reviewer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reviewers file: %w", err)
	}
	var records []reviewerRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse reviewers file: %w", err)
	}
	out := make([]models.Reviewer, 0, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("reviewer %d: empty id", i)
		}
		out = append(out, models.Reviewer{ID: r.ID, Name: r.Name, Active: r.Active == nil || *r.Active})
	}
	return out, nil
}

// NewRouteCmd creates route command
func NewRouteCmd() *cobra.Command {
	var keepStatus bool
	cmd := &cobra.Command{
		Use:   "route <case-id>",
		Short: "Run one routing pass for a case as the system actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := db.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting db: %w", err)
			}
			defer pg.Close()

			var dir directory.Directory = pg
			if cfg.DirectoryURL != "" {
				dir = directory.HTTPDirectory{
					BaseURL: cfg.DirectoryURL,
					Client:  &http.Client{Timeout: cfg.DirectoryClientTimeout},
				}
			}
			system := models.SystemActor(cfg.SystemActorID)
			engine := routing.NewEngine(pg, dir, system, nil, logger)
			res, err := engine.RouteCase(cmd.Context(), args[0], system, keepStatus)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&keepStatus, "keep-status", false, "Route at the current status without advancing")
	return cmd
}
