package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/config"
	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
	"github.com/imishinist/mlflow-pipeline/internal/models"
	"github.com/imishinist/mlflow-pipeline/internal/resolver"
)

// Valid run statuses
var validRunStatuses = map[string]models.RunStatus{
	"FINISHED": models.RunStatusFinished,
	"FAILED":   models.RunStatusFailed,
	"KILLED":   models.RunStatusKilled,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage MLflow runs",
	Long:  "Create, update, and manage MLflow runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new MLflow run",
	Long:  "Create and start a new MLflow run",
	RunE:  runStart,
}

var runEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End an MLflow run",
	Long:  "End an existing MLflow run",
	RunE:  runEnd,
}

var runLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest run of an experiment",
	Long: `Look up the most recently started run of the experiment given by
--experiment-name and print it as a CI output command:

  ::set-output name=run_id::<run-id>`,
	Args: cobra.NoArgs,
	RunE: runLatest,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runEndCmd)
	runCmd.AddCommand(runLatestCmd)

	// Start command flags
	runStartCmd.Flags().String("run-name", "", "Run name (default: timestamp-based)")
	runStartCmd.Flags().StringArray("tag", []string{}, "Tags in key=value format")
	runStartCmd.Flags().String("description", "", "Run description")

	// End command flags
	runEndCmd.Flags().String("run-id", "", "Run ID to end (required)")
	runEndCmd.Flags().String("status", "FINISHED", "End status (FINISHED/FAILED/KILLED)")
	runEndCmd.MarkFlagRequired("run-id")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, store, err := newStore()
	if err != nil {
		return err
	}

	ctx := context.Background()
	runConfig, err := buildRunConfig(ctx, cmd, cfg, store)
	if err != nil {
		return err
	}

	// Create run
	runInfo, err := store.CreateRun(ctx, runConfig)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	// Output only run ID for shell scripting
	fmt.Fprintln(cmd.OutOrStdout(), runInfo.RunID)

	return nil
}

// buildRunConfig constructs RunConfig from command flags and configuration.
// Without an experiment ID the run goes to the named experiment, which is
// created when missing.
func buildRunConfig(ctx context.Context, cmd *cobra.Command, cfg *config.Config, store mlflow.Store) (*models.RunConfig, error) {
	// Parse flags
	runName, _ := cmd.Flags().GetString("run-name")
	tags, _ := cmd.Flags().GetStringArray("tag")
	description, _ := cmd.Flags().GetString("description")

	experimentID := cfg.ExperimentID
	if experimentID == "" {
		if cfg.ExperimentName == "" {
			return nil, fmt.Errorf("experiment must be specified via --experiment-id or --experiment-name")
		}
		id, err := mlflow.GetOrCreateExperiment(ctx, store, cfg.ExperimentName)
		if err != nil {
			return nil, err
		}
		experimentID = id
	}

	// Parse tags
	tagMap, err := parseTags(tags)
	if err != nil {
		return nil, err
	}

	// Build run config
	runConfig := &models.RunConfig{
		ExperimentID: &experimentID,
		Tags:         tagMap,
	}

	if runName != "" {
		runConfig.RunName = &runName
	}

	if description != "" {
		// Process escape sequences in description
		processedDescription := processEscapeSequences(description)
		runConfig.Description = &processedDescription
	}

	return runConfig, nil
}

// parseTags parses tag strings in key=value format
func parseTags(tags []string) (map[string]string, error) {
	tagMap := make(map[string]string)
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag format: %s (expected key=value)", tag)
		}
		tagMap[parts[0]] = parts[1]
	}
	return tagMap, nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	_, store, err := newStore()
	if err != nil {
		return err
	}

	// Parse flags
	runID, _ := cmd.Flags().GetString("run-id")
	status, _ := cmd.Flags().GetString("status")

	// Validate status
	runStatus, valid := validRunStatuses[status]
	if !valid {
		return fmt.Errorf("invalid status: %s (valid: FINISHED, FAILED, KILLED)", status)
	}

	// Update run
	ctx := context.Background()
	err = store.UpdateRun(ctx, runID, runStatus)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}

	fmt.Printf("Run ended successfully\n")
	fmt.Printf("Run ID: %s\n", runID)
	fmt.Printf("Status: %s\n", status)

	return nil
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg, store, err := newStore()
	if err != nil {
		return err
	}

	run, err := resolver.LatestRun(context.Background(), store, cfg.ExperimentName)
	if err != nil {
		return err
	}
	log.Debug().Str("experiment", cfg.ExperimentName).Time("start_time", run.StartTime).Msgf("Latest run: %s", run.RunID)

	// Only the output command goes to stdout.
	fmt.Fprintln(cmd.OutOrStdout(), resolver.SetOutputLine("run_id", run.RunID))
	return nil
}

// processEscapeSequences processes common escape sequences in strings
func processEscapeSequences(s string) string {
	// Replace common escape sequences
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\t", "\t")
	s = strings.ReplaceAll(s, "\\r", "\r")
	s = strings.ReplaceAll(s, "\\\\", "\\")
	return s
}
