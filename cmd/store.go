package main

import (
	"errors"
	"fmt"

	"github.com/UnknownOlympus/hexatlas/internal/export"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/UnknownOlympus/hexatlas/internal/repository"
	"github.com/spf13/cobra"
)

var exportCities []string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export feature tables stored in PostGIS without rebuilding them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if !cfg.Database.Enabled() {
			return errors.New("export needs database.host to be configured")
		}

		cities, err := selectCities(cfg, exportCities)
		if err != nil {
			return err
		}
		idx, err := hexgrid.NewIndexer(cfg.Resolution)
		if err != nil {
			return err
		}

		pool, err := repository.NewDatabase(ctx,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer pool.Close()
		repo := repository.NewRepository(pool, logger)

		out := cmd.OutOrStdout()
		for _, city := range cities {
			table, lerr := repo.LoadFeatureTable(ctx, city.Name, idx)
			if lerr != nil {
				return lerr
			}
			paths, werr := export.WriteFiles(cfg.OutputDir, city.Name, cfg.ExportFormats, table)
			if werr != nil {
				return werr
			}
			for _, path := range paths {
				fmt.Fprintln(out, path)
			}
		}

		return nil
	},
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportCities, "city", nil, "export only the named cities (repeatable)")
	rootCmd.AddCommand(exportCmd)
}
