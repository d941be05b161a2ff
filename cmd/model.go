package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/UnknownOlympus/hexatlas/internal/export"
	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/UnknownOlympus/hexatlas/internal/modelling"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train <table.csv>...",
	Short: "Fit the bike path density model on exported feature tables",
	Long: `Reads one or more CSV feature tables written by "hexatlas run", fits an
ordinary least squares model of bike_paths_count on the other columns and
saves it to model.path.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tables, err := readTables(args)
		if err != nil {
			return err
		}

		model, err := modelling.Fit(tables, modelling.Options{ZeroFillMissing: cfg.Model.ZeroFillMissing})
		if err != nil {
			return err
		}

		for i, table := range tables {
			eval, eerr := model.Evaluate(table)
			if eerr != nil {
				return eerr
			}
			logger.InfoContext(ctx, "Training fit", "table", args[i], "n", eval.N, "r2", eval.R2, "rmse", eval.RMSE)
		}

		if err = os.MkdirAll(filepath.Dir(cfg.Model.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
		if err = model.SaveFile(cfg.Model.Path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "model saved to %s (%d features)\n", cfg.Model.Path, len(model.Features))

		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <table.csv>...",
	Short: "Score the saved model against feature tables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := modelling.LoadFile(cfg.Model.Path)
		if err != nil {
			return err
		}

		tables, err := readTables(args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, table := range tables {
			eval, eerr := model.Evaluate(table)
			if eerr != nil {
				return fmt.Errorf("%s: %w", args[i], eerr)
			}
			fmt.Fprintf(out, "%s\tn=%d\tr2=%.4f\trmse=%.4f\n", args[i], eval.N, eval.R2, eval.RMSE)
		}

		return nil
	},
}

var predictOutput string

var predictCmd = &cobra.Command{
	Use:   "predict <table.csv>",
	Short: "Add model predictions to a feature table",
	Long: `Applies the saved model to a CSV feature table and writes the table with a
prediction column. The output format follows the --output extension (.csv,
.geojson or .xlsx); the default is <input>_predicted.csv.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := modelling.LoadFile(cfg.Model.Path)
		if err != nil {
			return err
		}

		tables, err := readTables(args)
		if err != nil {
			return err
		}

		predicted, err := model.Predict(tables[0])
		if err != nil {
			return err
		}

		output := predictOutput
		if output == "" {
			output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_predicted.csv"
		}
		format, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(output), "."))
		if err != nil {
			return err
		}
		if err = export.WriteFile(output, format, predicted); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "predictions written to %s\n", output)

		return nil
	},
}

func init() {
	predictCmd.Flags().StringVarP(&predictOutput, "output", "o", "", "output file (.csv, .geojson or .xlsx)")
	rootCmd.AddCommand(trainCmd, evaluateCmd, predictCmd)
}

// readTables reads CSV feature tables at the configured resolution.
func readTables(paths []string) ([]*features.Table, error) {
	idx, err := hexgrid.NewIndexer(cfg.Resolution)
	if err != nil {
		return nil, err
	}

	tables := make([]*features.Table, 0, len(paths))
	for _, path := range paths {
		table, rerr := readTable(path, idx)
		if rerr != nil {
			return nil, rerr
		}
		tables = append(tables, table)
	}

	return tables, nil
}

func readTable(path string, idx *hexgrid.Indexer) (*features.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer file.Close()

	table, err := export.ReadCSV(file, idx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return table, nil
}
