package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/parser"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log parameters, metrics, and artifacts",
	Long:  "Log parameters, metrics, and artifacts to MLflow runs",
}

var logParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Log parameters to MLflow run",
	Long:  "Log parameters to an existing MLflow run",
	RunE:  logParams,
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logParamsCmd)

	// Params command flags
	logParamsCmd.Flags().String("run-id", "", "Run ID to log parameters to (required)")
	logParamsCmd.Flags().StringArray("param", []string{}, "Parameters in key=value format")
	logParamsCmd.Flags().String("from-file", "", "Load parameters from file (JSON/YAML)")
	logParamsCmd.MarkFlagRequired("run-id")
}

func logParams(cmd *cobra.Command, args []string) error {
	_, store, err := newStore()
	if err != nil {
		return err
	}

	// Parse flags
	runID, _ := cmd.Flags().GetString("run-id")
	params, _ := cmd.Flags().GetStringArray("param")
	fromFile, _ := cmd.Flags().GetString("from-file")

	ctx := context.Background()

	// Log parameters from command line
	if len(params) > 0 {
		paramMap := make(map[string]string)
		for _, param := range params {
			parts := strings.SplitN(param, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid parameter format: %s (expected key=value)", param)
			}
			paramMap[parts[0]] = parts[1]
		}

		if err := store.LogParamsFromMap(ctx, runID, paramMap); err != nil {
			return fmt.Errorf("failed to log parameters: %w", err)
		}

		fmt.Printf("Successfully logged %d parameters\n", len(paramMap))
		printParams(paramMap)
	}

	// Log parameters from file
	if fromFile != "" {
		paramMap, err := parser.ParamsFromFile(fromFile)
		if err != nil {
			return fmt.Errorf("failed to parse parameters file: %w", err)
		}

		if err := store.LogParamsFromMap(ctx, runID, paramMap); err != nil {
			return fmt.Errorf("failed to log parameters from file: %w", err)
		}

		fmt.Printf("Successfully logged %d parameters from %s\n", len(paramMap), fromFile)
		printParams(paramMap)
	}

	if len(params) == 0 && fromFile == "" {
		return fmt.Errorf("either --param or --from-file must be specified")
	}

	return nil
}

func printParams(params map[string]string) {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("  %s: %s\n", key, params[key])
	}
}
