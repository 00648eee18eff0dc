package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classifier and log it as a new run",
	Long: `Fit a random forest on the dataset, evaluate it on a stratified hold-out
split and log params, metrics, the dataset and the model into a new run of
the experiment given by --experiment-id, or else by --experiment-name
(created if missing).

The evaluation report is printed to stdout.`,
	Example: `  mlflow-pipeline train --data cardiovascular_disease_preprocessing.csv
  mlflow-pipeline train --n-estimators 200 --n-jobs 4 --run-name nightly`,
	Args: cobra.NoArgs,
	RunE: train,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	defaults := trainer.DefaultOptions()
	trainCmd.Flags().String("data", defaults.DataPath, "Dataset CSV with a header row")
	trainCmd.Flags().String("label", defaults.Label, "Name of the binary label column")
	trainCmd.Flags().Float64("test-size", defaults.TestSize, "Fraction of each class held out for evaluation")
	trainCmd.Flags().Int64("seed", defaults.Seed, "Seed of the split and the forest")
	trainCmd.Flags().Int("n-estimators", defaults.Forest.NEstimators, "Number of trees")
	trainCmd.Flags().Int("max-depth", defaults.Forest.MaxDepth, "Maximum tree depth (0: unlimited)")
	trainCmd.Flags().Int("max-features", defaults.Forest.MaxFeatures, "Features considered per split (0: sqrt)")
	trainCmd.Flags().Int("n-jobs", defaults.Forest.NJobs, "Trees fitted concurrently")
	trainCmd.Flags().String("run-name", "", "Run name (default: timestamp-based)")
}

func train(cmd *cobra.Command, args []string) error {
	cfg, store, err := newStore()
	if err != nil {
		return err
	}

	opts := trainer.DefaultOptions()
	opts.DataPath, _ = cmd.Flags().GetString("data")
	opts.Label, _ = cmd.Flags().GetString("label")
	opts.TestSize, _ = cmd.Flags().GetFloat64("test-size")
	opts.Seed, _ = cmd.Flags().GetInt64("seed")
	opts.RunName, _ = cmd.Flags().GetString("run-name")
	opts.Forest.NEstimators, _ = cmd.Flags().GetInt("n-estimators")
	opts.Forest.MaxDepth, _ = cmd.Flags().GetInt("max-depth")
	opts.Forest.MaxFeatures, _ = cmd.Flags().GetInt("max-features")
	opts.Forest.NJobs, _ = cmd.Flags().GetInt("n-jobs")
	opts.Forest.Seed = opts.Seed
	opts.ExperimentID = cfg.ExperimentID
	opts.ExperimentName = cfg.ExperimentName
	opts.Report = cmd.OutOrStdout()

	if _, err := trainer.Train(context.Background(), store, opts); err != nil {
		return fmt.Errorf("failed to train model: %w", err)
	}
	return nil
}
